package usbid

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// DefaultPaths lists the standard locations for the USB ID database.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// Database caches names from the USB ID database: vendors, products,
// device classes and audio terminal types.
type Database struct {
	vendors    map[uint16]string // VID -> vendor name
	products   map[uint32]string // (VID<<16)|PID -> product name
	classes    map[uint8]string  // class -> class name
	subclasses map[uint16]string // (class<<8)|subclass -> subclass name
	terminals  map[uint16]string // audio terminal type -> name
	loaded     bool
	mu         sync.RWMutex
	paths      []string
}

// New creates a new USB ID database that searches the default paths.
func New() *Database {
	return NewWithPaths(DefaultPaths)
}

// NewWithPaths creates a new USB ID database that searches the specified paths.
func NewWithPaths(paths []string) *Database {
	return &Database{
		vendors:    make(map[uint16]string),
		products:   make(map[uint32]string),
		classes:    make(map[uint8]string),
		subclasses: make(map[uint16]string),
		terminals:  make(map[uint16]string),
		paths:      paths,
	}
}

// Load parses the first database file found on the search paths. Only the
// first call reads a file.
//
// Returns true if the database was loaded (or already loaded), false if no
// database file could be found.
func (db *Database) Load() bool {
	db.mu.Lock()
	if db.loaded {
		db.mu.Unlock()
		return true
	}
	// Mark as loaded even if no file is found to prevent repeated searches
	db.loaded = true
	paths := db.paths
	db.mu.Unlock()

	for _, path := range paths {
		file, err := os.Open(path)
		if err != nil {
			continue
		}
		err = db.Parse(file)
		_ = file.Close()
		return err == nil
	}
	return false
}

// section is the part of the database a continuation line belongs to.
type section uint8

const (
	sectionNone section = iota
	sectionVendor
	sectionClass
)

// parser tracks the entry that tab-indented lines refine.
type parser struct {
	db      *Database
	section section
	vendor  uint16
	class   uint8
}

// Parse reads database entries from r, adding to those already present.
func (db *Database) Parse(r io.Reader) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	p := parser{db: db}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.line(scanner.Text())
	}
	return scanner.Err()
}

// line handles one line of the database.
//
// Vendors are "vvvv  Name" with products "\tpppp  Name" below them.
// Classes are "C cc  Name" with subclasses "\tss  Name". Audio terminal
// types are "AT tttt  Name". Doubly indented lines (interfaces, protocols)
// and the remaining sections are skipped.
func (p *parser) line(line string) {
	switch {
	case len(line) == 0 || line[0] == '#':
		return

	case strings.HasPrefix(line, "\t\t"):
		return

	case line[0] == '\t':
		switch p.section {
		case sectionVendor:
			if pid, name, ok := entry(line[1:], 4); ok {
				p.db.products[uint32(p.vendor)<<16|uint32(pid)] = name
			}
		case sectionClass:
			if sub, name, ok := entry(line[1:], 2); ok {
				p.db.subclasses[uint16(p.class)<<8|uint16(sub)] = name
			}
		}

	case strings.HasPrefix(line, "C "):
		p.section = sectionNone
		if class, name, ok := entry(line[2:], 2); ok {
			p.section = sectionClass
			p.class = uint8(class)
			p.db.classes[p.class] = name
		}

	case strings.HasPrefix(line, "AT "):
		p.section = sectionNone
		if typ, name, ok := entry(line[3:], 4); ok {
			p.db.terminals[uint16(typ)] = name
		}

	default:
		p.section = sectionNone
		if vid, name, ok := entry(line, 4); ok {
			p.section = sectionVendor
			p.vendor = uint16(vid)
			p.db.vendors[p.vendor] = name
		}
	}
}

// entry splits "xxxx  Name" with the given number of hex digits.
func entry(s string, digits int) (uint64, string, bool) {
	if len(s) <= digits+1 || s[digits] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(s[:digits], 16, 16)
	if err != nil {
		return 0, "", false
	}
	name := strings.TrimSpace(s[digits:])
	if name == "" {
		return 0, "", false
	}
	return id, name, true
}

// LookupVendor returns the vendor name for the given VID, or an empty
// string if it is unknown.
func (db *Database) LookupVendor(vid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vid]
}

// LookupProduct returns the product name for the given VID/PID combination,
// or an empty string if it is unknown.
func (db *Database) LookupProduct(vid, pid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.products[uint32(vid)<<16|uint32(pid)]
}

// LookupClass returns the name of a device or interface class.
func (db *Database) LookupClass(class uint8) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.classes[class]
}

// LookupSubclass returns the name of a subclass within class.
func (db *Database) LookupSubclass(class, subclass uint8) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.subclasses[uint16(class)<<8|uint16(subclass)]
}

// LookupTerminal returns the name of an audio terminal type.
func (db *Database) LookupTerminal(terminalType uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.terminals[terminalType]
}

// IsLoaded returns true if the database has been loaded (or load was attempted).
func (db *Database) IsLoaded() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.loaded
}

// VendorCount returns the number of vendors in the database.
func (db *Database) VendorCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.vendors)
}

// ProductCount returns the number of products in the database.
func (db *Database) ProductCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.products)
}

// TerminalCount returns the number of audio terminal types in the database.
func (db *Database) TerminalCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.terminals)
}
