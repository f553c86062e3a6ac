package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Collector zapisuje logy jednotlivých služeb do souborů v jednom adresáři.
type Collector struct {
	dir string
	// mu serializuje zápisy, paho volá handlery souběžně.
	mu sync.Mutex
}

func NewCollector(dir string) (*Collector, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("nelze vytvořit adresář pro logy: %w", err)
	}
	return &Collector{dir: dir}, nil
}

// ServiceFromTopic vytáhne název služby z logs/<služba>[/...].
// Název nesmí obsahovat nic, čím by se dalo utéct z adresáře.
func ServiceFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[0] != "logs" {
		return "", fmt.Errorf("neočekávaný topic logu %q", topic)
	}
	name := parts[1]
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `\:`) {
		return "", fmt.Errorf("neplatný název služby %q", name)
	}
	return name, nil
}

// Append připíše řádek logu do <dir>/<služba>.log.
// Soubor se otevírá pro každý zápis, takže rotace logů (logrotate) funguje bez restartu.
func (c *Collector) Append(topic string, payload []byte) error {
	service, err := ServiceFromTopic(topic)
	if err != nil {
		return err
	}
	filename := filepath.Join(c.dir, service+".log")

	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	// slog JSON handler končí řádek sám, jiní klienti nemusí.
	line := bytes.TrimRight(payload, "\n")
	if _, err := f.Write(append(line[:len(line):len(line)], '\n')); err != nil {
		return err
	}
	return nil
}
