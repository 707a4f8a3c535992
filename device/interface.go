package device

import (
	"sync"

	"github.com/ardnew/usbaudio/pkg"
)

// ClassDriver defines the interface for USB class-specific handling.
type ClassDriver interface {
	// Init initializes the class driver for the interface.
	Init(iface *Interface) error

	// HandleSetup processes class-specific SETUP requests addressed to the
	// interface or to one of its endpoints. For host-to-device requests data
	// holds the received data stage. The returned slice is sent as the data
	// stage of device-to-host requests and must stay valid until the next
	// call. Returns handled=false when the request is not recognized.
	HandleSetup(iface *Interface, setup *SetupPacket, data []byte) (response []byte, handled bool, err error)

	// SetAlternate is called after the alternate setting changes.
	SetAlternate(iface *Interface, alt uint8) error

	// Close releases any resources held by the class driver.
	Close() error
}

// ClassDescriptorWriter is implemented by class drivers that place
// class-specific descriptors in the configuration descriptor. Each method
// returns the number of bytes written, or pkg.ErrBufferTooSmall.
type ClassDescriptorWriter interface {
	// InterfaceDescriptorsTo writes the descriptors that follow the
	// interface descriptor of alternate setting alt.
	InterfaceDescriptorsTo(iface *Interface, alt uint8, buf []byte) (int, error)

	// EndpointDescriptorsTo writes the descriptors that follow the
	// endpoint descriptor of ep.
	EndpointDescriptorsTo(iface *Interface, ep *Endpoint, buf []byte) (int, error)
}

// AlternateSetting is one selectable layout of an interface's endpoints.
type AlternateSetting struct {
	Number      uint8
	StringIndex uint8

	endpoints     [MaxEndpointsPerInterface]*Endpoint
	endpointCount int
}

// Endpoints returns the endpoints of the alternate setting.
// The returned slice references internal storage; do not modify.
func (a *AlternateSetting) Endpoints() []*Endpoint {
	return a.endpoints[:a.endpointCount]
}

func (a *AlternateSetting) endpoint(address uint8) *Endpoint {
	for idx := 0; idx < a.endpointCount; idx++ {
		if a.endpoints[idx].Address == address {
			return a.endpoints[idx]
		}
	}
	return nil
}

// Interface represents a USB interface within a configuration.
type Interface struct {
	// Descriptor data shared by every alternate setting
	Number      uint8 // Interface number
	Class       uint8 // Interface class
	SubClass    uint8 // Interface subclass
	Protocol    uint8 // Interface protocol
	StringIndex uint8 // String descriptor index

	// Alternate settings - fixed-size array for zero allocation
	alternates     [MaxAlternateSettings]AlternateSetting
	alternateCount int
	current        uint8
	mutex          sync.RWMutex

	// Class driver
	classDriver ClassDriver
}

// NewInterface creates a new interface from a descriptor. The interface
// starts with alternate setting 0 and no endpoints.
func NewInterface(desc *InterfaceDescriptor) *Interface {
	return &Interface{
		Number:         desc.InterfaceNumber,
		Class:          desc.InterfaceClass,
		SubClass:       desc.InterfaceSubClass,
		Protocol:       desc.InterfaceProtocol,
		StringIndex:    desc.InterfaceIndex,
		alternateCount: 1,
	}
}

// AddAlternate appends an alternate setting and returns its number.
// Endpoints added afterwards with AddEndpoint belong to it.
func (i *Interface) AddAlternate() (uint8, error) {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if i.alternateCount >= MaxAlternateSettings {
		return 0, pkg.ErrNoMemory
	}
	alt := uint8(i.alternateCount)
	i.alternates[alt] = AlternateSetting{Number: alt}
	i.alternateCount++

	pkg.LogDebug(pkg.ComponentDevice, "alternate setting added",
		"interface", i.Number,
		"alternate", alt)

	return alt, nil
}

// NumAlternates returns the number of alternate settings.
func (i *Interface) NumAlternates() int {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.alternateCount
}

// AddEndpoint adds an endpoint to the most recently added alternate setting.
func (i *Interface) AddEndpoint(ep *Endpoint) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	alt := &i.alternates[i.alternateCount-1]
	if alt.endpointCount >= MaxEndpointsPerInterface {
		return pkg.ErrNoMemory
	}
	if alt.endpoint(ep.Address) != nil {
		return pkg.ErrBusy
	}

	alt.endpoints[alt.endpointCount] = ep
	alt.endpointCount++

	pkg.LogDebug(pkg.ComponentDevice, "endpoint added to interface",
		"interface", i.Number,
		"alternate", alt.Number,
		"endpoint", ep.Address,
		"type", TransferTypeName(ep.TransferType()),
		"direction", DirectionName(ep.Direction()))

	return nil
}

// Alternate returns alternate setting alt, or nil if it does not exist.
func (i *Interface) Alternate(alt uint8) *AlternateSetting {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	if int(alt) >= i.alternateCount {
		return nil
	}
	return &i.alternates[alt]
}

// CurrentAlternate returns the active alternate setting number.
func (i *Interface) CurrentAlternate() uint8 {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.current
}

// Endpoints returns the endpoints of the active alternate setting.
// The returned slice references internal storage; do not modify.
func (i *Interface) Endpoints() []*Endpoint {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.alternates[i.current].Endpoints()
}

// GetEndpoint returns the endpoint with the given address in the active
// alternate setting.
func (i *Interface) GetEndpoint(address uint8) *Endpoint {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.alternates[i.current].endpoint(address)
}

// FindEndpoint returns the endpoint with the given address in any
// alternate setting.
func (i *Interface) FindEndpoint(address uint8) *Endpoint {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	for idx := 0; idx < i.alternateCount; idx++ {
		if ep := i.alternates[idx].endpoint(address); ep != nil {
			return ep
		}
	}
	return nil
}

// SetClassDriver sets the class driver for this interface.
func (i *Interface) SetClassDriver(driver ClassDriver) error {
	i.mutex.Lock()
	oldDriver := i.classDriver
	i.classDriver = driver
	i.mutex.Unlock()

	// Close old driver outside the lock
	if oldDriver != nil && oldDriver != driver {
		if err := oldDriver.Close(); err != nil {
			pkg.LogWarn(pkg.ComponentDevice, "error closing previous class driver",
				"error", err)
		}
	}

	// Driver callbacks may call back into the interface
	if driver != nil {
		return driver.Init(i)
	}
	return nil
}

// ClassDriver returns the current class driver.
func (i *Interface) ClassDriver() ClassDriver {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.classDriver
}

// HandleSetup processes a class-specific SETUP request.
func (i *Interface) HandleSetup(setup *SetupPacket, data []byte) ([]byte, bool, error) {
	i.mutex.RLock()
	driver := i.classDriver
	i.mutex.RUnlock()

	if driver == nil {
		return nil, false, nil
	}
	return driver.HandleSetup(i, setup, data)
}

// SetAlternate activates alternate setting alt and notifies the class
// driver. Endpoints of the newly active setting start unstalled on DATA0.
func (i *Interface) SetAlternate(alt uint8) error {
	i.mutex.Lock()
	if int(alt) >= i.alternateCount {
		i.mutex.Unlock()
		return pkg.ErrInvalidRequest
	}
	i.current = alt
	for _, ep := range i.alternates[alt].Endpoints() {
		ep.Reset()
	}
	driver := i.classDriver
	i.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentDevice, "alternate setting selected",
		"interface", i.Number,
		"alternate", alt)

	if driver != nil {
		return driver.SetAlternate(i, alt)
	}
	return nil
}

// Descriptor returns the interface descriptor of alternate setting alt.
func (i *Interface) Descriptor(alt uint8) InterfaceDescriptor {
	i.mutex.RLock()
	defer i.mutex.RUnlock()

	desc := InterfaceDescriptor{
		Length:            InterfaceDescriptorSize,
		DescriptorType:    DescriptorTypeInterface,
		InterfaceNumber:   i.Number,
		AlternateSetting:  alt,
		InterfaceClass:    i.Class,
		InterfaceSubClass: i.SubClass,
		InterfaceProtocol: i.Protocol,
		InterfaceIndex:    i.StringIndex,
	}
	if int(alt) < i.alternateCount {
		desc.NumEndpoints = uint8(i.alternates[alt].endpointCount)
		if s := i.alternates[alt].StringIndex; s != 0 {
			desc.InterfaceIndex = s
		}
	}
	return desc
}

// MarshalTo writes every alternate setting of the interface, each followed
// by its class-specific descriptors and endpoints, to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (i *Interface) MarshalTo(buf []byte) int {
	i.mutex.RLock()
	count := i.alternateCount
	writer, _ := i.classDriver.(ClassDescriptorWriter)
	i.mutex.RUnlock()

	offset := 0
	for alt := 0; alt < count; alt++ {
		desc := i.Descriptor(uint8(alt))
		n := desc.MarshalTo(buf[offset:])
		if n == 0 {
			return 0
		}
		offset += n

		if writer != nil {
			n, err := writer.InterfaceDescriptorsTo(i, uint8(alt), buf[offset:])
			if err != nil {
				return 0
			}
			offset += n
		}

		for _, ep := range i.Alternate(uint8(alt)).Endpoints() {
			epDesc := ep.Descriptor()
			n := epDesc.MarshalTo(buf[offset:])
			if n == 0 {
				return 0
			}
			offset += n

			if writer != nil {
				n, err := writer.EndpointDescriptorsTo(i, ep, buf[offset:])
				if err != nil {
					return 0
				}
				offset += n
			}
		}
	}
	return offset
}

// Close releases resources held by the interface.
func (i *Interface) Close() error {
	i.mutex.Lock()
	driver := i.classDriver
	i.classDriver = nil
	i.mutex.Unlock()

	if driver != nil {
		return driver.Close()
	}
	return nil
}

// MaxAssociationsPerConfiguration is the maximum number of IADs per configuration.
const MaxAssociationsPerConfiguration = 2

// Configuration represents a USB device configuration.
type Configuration struct {
	// Descriptor data
	Value       uint8 // Configuration value for SET_CONFIGURATION
	Attributes  uint8 // Configuration attributes (bus/self powered, remote wakeup)
	MaxPower    uint8 // Maximum power consumption (2mA units)
	StringIndex uint8 // String descriptor index

	// Interfaces - fixed-size array for zero allocation
	interfaces     [MaxInterfacesPerConfiguration]*Interface
	interfaceCount int
	mutex          sync.RWMutex

	// Interface associations - fixed-size array
	associations     [MaxAssociationsPerConfiguration]InterfaceAssociation
	associationCount int
}

// InterfaceAssociation groups related interfaces of one function.
type InterfaceAssociation struct {
	FirstInterface   uint8
	InterfaceCount   uint8
	FunctionClass    uint8
	FunctionSubClass uint8
	FunctionProtocol uint8
	StringIndex      uint8
}

// NewConfiguration creates a new configuration.
func NewConfiguration(value uint8) *Configuration {
	return &Configuration{
		Value:      value,
		Attributes: ConfigAttrBusPowered,
		MaxPower:   50, // 100mA default
	}
}

// AddInterface adds an interface to the configuration.
func (c *Configuration) AddInterface(iface *Interface) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.interfaceCount >= MaxInterfacesPerConfiguration {
		return pkg.ErrNoMemory
	}

	for idx := 0; idx < c.interfaceCount; idx++ {
		if c.interfaces[idx].Number == iface.Number {
			return pkg.ErrBusy
		}
	}

	c.interfaces[c.interfaceCount] = iface
	c.interfaceCount++

	pkg.LogDebug(pkg.ComponentDevice, "interface added to configuration",
		"config", c.Value,
		"interface", iface.Number)

	return nil
}

// GetInterface returns the interface with the given number.
func (c *Configuration) GetInterface(number uint8) *Interface {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for idx := 0; idx < c.interfaceCount; idx++ {
		if c.interfaces[idx].Number == number {
			return c.interfaces[idx]
		}
	}
	return nil
}

// Interfaces returns all interfaces in the configuration.
// The returned slice references internal storage; do not modify.
func (c *Configuration) Interfaces() []*Interface {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.interfaces[:c.interfaceCount]
}

// NumInterfaces returns the number of interfaces.
func (c *Configuration) NumInterfaces() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.interfaceCount
}

// AddAssociation adds an interface association.
func (c *Configuration) AddAssociation(assoc *InterfaceAssociation) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.associationCount >= MaxAssociationsPerConfiguration {
		return pkg.ErrNoMemory
	}

	c.associations[c.associationCount] = *assoc
	c.associationCount++
	return nil
}

// Associations returns all interface associations.
// The returned slice references internal storage; do not modify.
func (c *Configuration) Associations() []InterfaceAssociation {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.associations[:c.associationCount]
}

// Descriptor returns the configuration descriptor header with TotalLength
// covering every sub-descriptor.
func (c *Configuration) Descriptor() ConfigurationDescriptor {
	var scratch [MaxDescriptorResponseSize]byte
	n := c.MarshalTo(scratch[:])
	return c.header(uint16(n))
}

func (c *Configuration) header(totalLength uint16) ConfigurationDescriptor {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return ConfigurationDescriptor{
		Length:             ConfigurationDescriptorSize,
		DescriptorType:     DescriptorTypeConfiguration,
		TotalLength:        totalLength,
		NumInterfaces:      uint8(c.interfaceCount),
		ConfigurationValue: c.Value,
		ConfigurationIndex: c.StringIndex,
		Attributes:         c.Attributes,
		MaxPower:           c.MaxPower,
	}
}

// MarshalTo writes the full configuration descriptor including all
// sub-descriptors to buf. The header is written last so that TotalLength
// reflects the class-specific descriptors as well.
// Returns the number of bytes written, or 0 if buf is too small.
func (c *Configuration) MarshalTo(buf []byte) int {
	if len(buf) < ConfigurationDescriptorSize {
		return 0
	}
	offset := ConfigurationDescriptorSize

	// Interface associations must come before interfaces
	for _, assoc := range c.Associations() {
		iad := InterfaceAssociationDescriptor{
			Length:           IADSize,
			DescriptorType:   DescriptorTypeInterfaceAssociation,
			FirstInterface:   assoc.FirstInterface,
			InterfaceCount:   assoc.InterfaceCount,
			FunctionClass:    assoc.FunctionClass,
			FunctionSubClass: assoc.FunctionSubClass,
			FunctionProtocol: assoc.FunctionProtocol,
			FunctionIndex:    assoc.StringIndex,
		}
		n := iad.MarshalTo(buf[offset:])
		if n == 0 {
			return 0
		}
		offset += n
	}

	for _, iface := range c.Interfaces() {
		n := iface.MarshalTo(buf[offset:])
		if n == 0 {
			return 0
		}
		offset += n
	}

	hdr := c.header(uint16(offset))
	hdr.MarshalTo(buf)
	return offset
}

// SetSelfPowered sets or clears the self-powered attribute.
func (c *Configuration) SetSelfPowered(selfPowered bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if selfPowered {
		c.Attributes |= ConfigAttrSelfPowered
	} else {
		c.Attributes &^= ConfigAttrSelfPowered
	}
}

// IsSelfPowered returns true if the configuration is self-powered.
func (c *Configuration) IsSelfPowered() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.Attributes&ConfigAttrSelfPowered != 0
}

// Close releases resources held by the configuration.
func (c *Configuration) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var lastErr error
	for idx := 0; idx < c.interfaceCount; idx++ {
		if err := c.interfaces[idx].Close(); err != nil {
			lastErr = err
		}
		c.interfaces[idx] = nil
	}
	c.interfaceCount = 0
	return lastErr
}
