package device

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// overlayRegion mirrors Region in a YAML-friendly shape.
type overlayRegion struct {
	Start    uint32 `yaml:"start"`
	Size     uint32 `yaml:"size"`
	PageSize uint32 `yaml:"page_size"`
}

func (r overlayRegion) toRegion() Region {
	return Region{Start: r.Start, Size: r.Size, PageSize: r.PageSize}
}

// overlayChip is the YAML document shape for one --device-db entry.
type overlayChip struct {
	Name           string        `yaml:"name"`
	Flash          overlayRegion `yaml:"flash"`
	EEPROM         overlayRegion `yaml:"eeprom"`
	UserRow        overlayRegion `yaml:"userrow"`
	Fuses          overlayRegion `yaml:"fuses"`
	SRAM           overlayRegion `yaml:"sram"`
	SyscfgAddress  uint32        `yaml:"syscfg_address"`
	NVMCtrlAddress uint32        `yaml:"nvmctrl_address"`
	SigrowAddress  uint32        `yaml:"sigrow_address"`
	NVMVersion     int           `yaml:"nvm_version"`
}

// overlayFile is the top-level --device-db document: a list of chips to
// add to, or override in, the built-in catalog.
type overlayFile struct {
	Chips []overlayChip `yaml:"chips"`
}

// LoadOverlay parses a YAML device database and registers every chip it
// names, overriding any built-in entry with the same name. The on-disk
// format mirrors the builtin catalog's fields one for one so an operator
// can dump, edit and reload a single chip's descriptor.
func LoadOverlay(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("device: reading overlay %s: %w", path, err)
	}

	var doc overlayFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("device: parsing overlay %s: %w", path, err)
	}

	for _, oc := range doc.Chips {
		if oc.Name == "" {
			return fmt.Errorf("device: overlay %s: chip entry missing name", path)
		}
		Register(&Chip{
			Name:           oc.Name,
			Flash:          oc.Flash.toRegion(),
			EEPROM:         oc.EEPROM.toRegion(),
			UserRow:        oc.UserRow.toRegion(),
			Fuses:          oc.Fuses.toRegion(),
			SRAM:           oc.SRAM.toRegion(),
			SyscfgAddress:  oc.SyscfgAddress,
			NVMCtrlAddress: oc.NVMCtrlAddress,
			SigrowAddress:  oc.SigrowAddress,
			NVMVersion:     NVMVersion(oc.NVMVersion),
		})
	}

	return nil
}
