// Command updiprog drives a UPDI target over a TTL serial adapter: reads
// device identity, erases or unlocks the chip, programs or dumps an
// image, and writes or checks the information and configuration blocks
// that record what firmware is on the chip.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/term"

	"github.com/gmofishsauce/updiprog/internal/app"
	"github.com/gmofishsauce/updiprog/internal/device"
	"github.com/gmofishsauce/updiprog/internal/image"
	"github.com/gmofishsauce/updiprog/internal/infoblock"
	"github.com/gmofishsauce/updiprog/internal/link"
	"github.com/gmofishsauce/updiprog/internal/nvm"
	"github.com/gmofishsauce/updiprog/internal/phy"
	"github.com/gmofishsauce/updiprog/internal/proglog"
	"github.com/gmofishsauce/updiprog/internal/program"
)

const version = "0.1.0"

func main() {
	os.Exit(submain())
}

func submain() int {
	log.SetFlags(log.Lmsgprefix | log.Lmicroseconds)
	log.SetPrefix("updiprog: ")

	var (
		deviceName = flag.String("device", "", "target chip name, e.g. tiny817 (required)")
		deviceDB   = flag.String("device-db", "", "YAML file of additional/overriding device descriptors")
		comport    = flag.String("comport", "/dev/ttyUSB0", "serial device path")
		baudrate   = flag.Int("baudrate", 115200, "serial baud rate")
		file       = flag.String("file", "", "image file to program/save (addr:hexbytes records)")
		doErase    = flag.Bool("erase", false, "perform a full chip erase")
		doProgram  = flag.Bool("program", false, "erase and program --file, then write the info block")
		doCheck    = flag.Bool("check", false, "verify an already-programmed image, without writing anything")
		doSave     = flag.Bool("save", false, "dump flash to --file")
		doInfo     = flag.Bool("info", false, "print the stored information block")
		doUnlock   = flag.Bool("unlock", false, "unlock the chip with a chip-erase key")
		doUpdate   = flag.Bool("update", false, "rebuild and write the configuration block")
		fuses      = flag.String("fuses", "", "fuse bytes to write: addr:val;val|addr:val")
		readArg    = flag.String("read", "", "bytes to read and print: addr:n|addr:n")
		writeArg   = flag.String("write", "", "bytes to write: addr:val;val|addr:val")
		doReset    = flag.Bool("reset", false, "toggle the reset line")
		verbose    = flag.Int("verbose", int(proglog.Warn), "log verbosity 0 (silent) to 6 (wire trace)")
		showVer    = flag.Bool("version", false, "print the version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Println("updiprog", version)
		return exitOK
	}

	if *deviceDB != "" {
		if err := device.LoadOverlay(*deviceDB); err != nil {
			log.Printf("%v", err)
			return exitCodeForError(&invalidArgumentError{reason: err.Error()})
		}
	}

	if *deviceName == "" {
		log.Printf("missing required --device flag (known chips: %v)", device.Names())
		return exitCodeForError(&invalidArgumentError{reason: "missing --device"})
	}
	chip, err := device.Lookup(*deviceName)
	if err != nil {
		log.Printf("%v", err)
		return exitCodeForError(&invalidArgumentError{reason: err.Error()})
	}

	level := proglog.Level(*verbose)
	progLog := proglog.New(log.New(os.Stderr, "", log.Lmsgprefix|log.Lmicroseconds), level)

	showProgress := term.IsTerminal(int(os.Stderr.Fd()))

	driver, closePhy, err := connect(*comport, *baudrate, chip, progLog)
	if err != nil {
		log.Printf("connecting to %s: %v", *comport, err)
		return exitCodeForError(err)
	}
	defer closePhy()

	info, err := driver.DeviceInfo()
	if err != nil {
		log.Printf("reading device info: %v", err)
		return exitCodeForError(err)
	}
	progLog.Infof("device: family %s, nvm revision %s", info.FamilyID, info.NVMRevision)

	needsProgMode := *doErase || *doProgram || *doUnlock || *doUpdate ||
		*fuses != "" || *writeArg != ""
	if needsProgMode {
		if err := driver.EnsureProgMode(); err != nil {
			log.Printf("entering programming mode: %v", err)
			return exitCodeForError(err)
		}
		defer driver.Close()
		if _, err := driver.DeviceInfo(); err != nil {
			log.Printf("reading device info after entering programming mode: %v", err)
			return exitCodeForError(err)
		}
	}

	if *doErase && !*doProgram {
		if showProgress {
			fmt.Fprintln(os.Stderr, "erasing...")
		}
		if err := driver.Erase(); err != nil {
			log.Printf("erase: %v", err)
			return exitCodeForError(err)
		}
	}

	if *doProgram {
		if *file == "" {
			log.Printf("--program requires --file")
			return exitCodeForError(&invalidArgumentError{reason: "missing --file"})
		}
		img, err := loadRecordFile(*file)
		if err != nil {
			log.Printf("loading %s: %v", *file, err)
			return exitCodeForError(&invalidArgumentError{reason: err.Error()})
		}
		if showProgress {
			fmt.Fprintln(os.Stderr, "programming...")
		}
		if err := driver.ProgramImage(img); err != nil {
			log.Printf("program: %v", err)
			return exitCodeForError(err)
		}

		info := driver.BuildInfo(flashPayload(img, chip.Flash), infoblock.Info{})
		if err := driver.WriteInfoBlock(info); err != nil {
			log.Printf("write info block: %v", err)
			return exitCodeForError(err)
		}
		if err := driver.VerifyInfoBlock(); err != nil {
			log.Printf("verify after program: %v", err)
			return exitCodeForError(err)
		}
	}

	if *doCheck {
		if err := driver.Verify(); err != nil {
			log.Printf("check: %v", err)
			return exitCodeForError(err)
		}
		log.Printf("check: ok")
	}

	if *doInfo {
		info, err := driver.ReadInfoBlock()
		if err != nil {
			log.Printf("info: %v", err)
			return exitCodeForError(err)
		}
		printInfo(info)
	}

	if *doUpdate {
		if err := driver.UpdateConfigBlock(nil); err != nil {
			log.Printf("update config block: %v", err)
			return exitCodeForError(err)
		}
	}

	if *fuses != "" {
		groups, err := parseWriteGroups(*fuses)
		if err != nil {
			log.Printf("--fuses: %v", err)
			return exitCodeForError(&invalidArgumentError{reason: err.Error()})
		}
		for _, g := range groups {
			if err := driver.WriteMem(g.Addr, g.Values); err != nil {
				log.Printf("writing fuses at %#x: %v", g.Addr, err)
				return exitCodeForError(err)
			}
		}
	}

	if *readArg != "" {
		groups, err := parseReadGroups(*readArg)
		if err != nil {
			log.Printf("--read: %v", err)
			return exitCodeForError(&invalidArgumentError{reason: err.Error()})
		}
		for _, g := range groups {
			buf := make([]byte, g.Count)
			if err := driver.ReadMem(g.Addr, buf); err != nil {
				log.Printf("reading %#x: %v", g.Addr, err)
				return exitCodeForError(err)
			}
			fmt.Printf("%#x: % x\n", g.Addr, buf)
		}
	}

	if *writeArg != "" {
		groups, err := parseWriteGroups(*writeArg)
		if err != nil {
			log.Printf("--write: %v", err)
			return exitCodeForError(&invalidArgumentError{reason: err.Error()})
		}
		for _, g := range groups {
			if err := driver.WriteMem(g.Addr, g.Values); err != nil {
				log.Printf("writing %#x: %v", g.Addr, err)
				return exitCodeForError(err)
			}
		}
	}

	if *doSave {
		if *file == "" {
			log.Printf("--save requires --file")
			return exitCodeForError(&invalidArgumentError{reason: "missing --file"})
		}
		img, err := driver.DumpImage([]device.RegionKind{device.Flash})
		if err != nil {
			log.Printf("save: %v", err)
			return exitCodeForError(err)
		}
		if err := saveRecordFile(*file, img); err != nil {
			log.Printf("save: %v", err)
			return exitCodeForError(err)
		}
	}

	if *doReset {
		if err := driver.Reset(needsProgMode, 5); err != nil {
			log.Printf("reset: %v", err)
			return exitCodeForError(err)
		}
	}

	return exitOK
}

// connect opens the serial port and builds the full protocol stack down
// to an operation driver, the way exer/cex/main.go opens the Nano and
// wraps it in a session before doing anything else.
func connect(comport string, baud int, chip *device.Chip, progLog *proglog.Logger) (*program.Driver, func() error, error) {
	const guardMs = 0
	p, err := phy.Open(comport, baud, guardMs, progLog)
	if err != nil {
		return nil, nil, err
	}
	l := link.New(p, link.Width16, progLog)
	if err := l.Init(baud, guardMs); err != nil {
		p.Close()
		return nil, nil, fmt.Errorf("link init: %w", err)
	}
	a := app.New(l, chip, progLog)
	n := nvm.New(a, chip, progLog)
	driver := program.New(n, progLog, program.DefaultOptions())
	return driver, p.Close, nil
}

func printInfo(info infoblock.Info) {
	fmt.Printf("firmware version: %s\n", string(info.FWVersion[:]))
	fmt.Printf("firmware size: %d bytes\n", info.FWSize)
	fmt.Printf("firmware crc24: %#06x\n", info.FWCRC24)
}

// flashPayload returns the bytes of whichever image segment falls inside
// flash, for BuildInfo's size/CRC computation — write_infoblock's own
// len(data)/calc_crc24(data, len) call operates on exactly this span.
func flashPayload(img *image.Image, flash device.Region) []byte {
	for _, seg := range img.Segments() {
		if seg.AddrFrom() >= flash.Start && seg.AddrFrom() < flash.End() {
			return seg.Bytes
		}
	}
	return nil
}
