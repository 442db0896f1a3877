package printer

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var printerValidator = validator.New()

type fileConfig struct {
	Printers []Printer `yaml:"printers" validate:"dive"`
}

// LoadFile reads printer definitions from a YAML file of the form:
//
//	printers:
//	  - id: kitchen
//	    name: Kitchen
//	    type: kitchen
//	    ip: 192.168.1.50
//	    port: 9100
//	    enabled: true
func LoadFile(path string) ([]Printer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read printers file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) ([]Printer, error) {
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse printers file: %w", err)
	}
	if err := printerValidator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid printers file: %w", err)
	}

	seen := make(map[string]struct{}, len(cfg.Printers))
	for i := range cfg.Printers {
		p := &cfg.Printers[i]
		if _, ok := seen[p.ID]; ok {
			return nil, fmt.Errorf("invalid printers file: duplicate printer id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if strings.TrimSpace(p.Name) == "" {
			p.Name = p.ID
		}
	}
	return cfg.Printers, nil
}

// FromAddrs builds the default kitchen and bill printers from host:port
// strings. Empty addresses are skipped.
func FromAddrs(kitchenAddr, billAddr string) ([]Printer, error) {
	var printers []Printer
	for _, def := range []struct {
		id, name, addr string
		kind           Type
	}{
		{id: "kitchen", name: "Kitchen", addr: kitchenAddr, kind: TypeKitchen},
		{id: "bill", name: "Front Desk", addr: billAddr, kind: TypeBill},
	} {
		if strings.TrimSpace(def.addr) == "" {
			continue
		}
		host, portText, err := net.SplitHostPort(def.addr)
		if err != nil {
			return nil, fmt.Errorf("invalid %s printer address: %w", def.id, err)
		}
		port, err := strconv.Atoi(portText)
		if err != nil || port < 1 || port > 65535 {
			return nil, errors.New("invalid " + def.id + " printer port: " + portText)
		}
		printers = append(printers, Printer{
			ID:      def.id,
			Name:    def.name,
			Type:    def.kind,
			IP:      host,
			Port:    port,
			Enabled: true,
		})
	}
	return printers, nil
}
