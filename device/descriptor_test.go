package device

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/usbaudio/pkg"
)

func TestDeviceDescriptor_RoundTrip(t *testing.T) {
	original := &DeviceDescriptor{
		USBVersion:        0x0200,
		DeviceClass:       ClassPerInterface,
		MaxPacketSize0:    64,
		VendorID:          0x16C0,
		ProductID:         0x27DD,
		DeviceVersion:     0x0100,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialNumberIndex: 3,
		NumConfigurations: 1,
	}

	var buf [DeviceDescriptorSize]byte
	if n := original.MarshalTo(buf[:]); n != DeviceDescriptorSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, DeviceDescriptorSize)
	}
	if buf[0] != 18 || buf[1] != DescriptorTypeDevice {
		t.Errorf("header = % x, want 12 01", buf[:2])
	}

	var parsed DeviceDescriptor
	if err := ParseDeviceDescriptor(buf[:], &parsed); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	parsed.Length, parsed.DescriptorType = 0, 0
	if parsed != *original {
		t.Errorf("ParseDeviceDescriptor() = %+v, want %+v", parsed, *original)
	}
}

func TestParseDeviceDescriptor_Errors(t *testing.T) {
	var parsed DeviceDescriptor
	if err := ParseDeviceDescriptor(make([]byte, 10), &parsed); !errors.Is(err, pkg.ErrDescriptorTooShort) {
		t.Errorf("short: error = %v, want %v", err, pkg.ErrDescriptorTooShort)
	}

	data := make([]byte, 18)
	data[0] = 18
	data[1] = DescriptorTypeConfiguration
	if err := ParseDeviceDescriptor(data, &parsed); !errors.Is(err, pkg.ErrDescriptorTypeMismatch) {
		t.Errorf("wrong type: error = %v, want %v", err, pkg.ErrDescriptorTypeMismatch)
	}
}

func TestConfigurationDescriptor_RoundTrip(t *testing.T) {
	original := &ConfigurationDescriptor{
		TotalLength:        180,
		NumInterfaces:      3,
		ConfigurationValue: 1,
		ConfigurationIndex: 4,
		Attributes:         ConfigAttrBusPowered | ConfigAttrRemoteWakeup,
		MaxPower:           250,
	}

	var buf [ConfigurationDescriptorSize]byte
	if n := original.MarshalTo(buf[:]); n != ConfigurationDescriptorSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, ConfigurationDescriptorSize)
	}

	var parsed ConfigurationDescriptor
	if err := ParseConfigurationDescriptor(buf[:], &parsed); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if parsed.TotalLength != 180 {
		t.Errorf("TotalLength = %d, want 180", parsed.TotalLength)
	}
	if parsed.Attributes != original.Attributes {
		t.Errorf("Attributes = 0x%02X, want 0x%02X", parsed.Attributes, original.Attributes)
	}
}

func TestInterfaceDescriptor_RoundTrip(t *testing.T) {
	original := &InterfaceDescriptor{
		InterfaceNumber:   2,
		AlternateSetting:  1,
		NumEndpoints:      1,
		InterfaceClass:    ClassAudio,
		InterfaceSubClass: 0x02,
		InterfaceIndex:    5,
	}

	var buf [InterfaceDescriptorSize]byte
	original.MarshalTo(buf[:])

	var parsed InterfaceDescriptor
	if err := ParseInterfaceDescriptor(buf[:], &parsed); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if parsed.AlternateSetting != 1 {
		t.Errorf("AlternateSetting = %d, want 1", parsed.AlternateSetting)
	}
	if parsed.InterfaceSubClass != 0x02 {
		t.Errorf("InterfaceSubClass = %d, want 2", parsed.InterfaceSubClass)
	}
}

func TestEndpointDescriptor_Forms(t *testing.T) {
	tests := []struct {
		name string
		desc EndpointDescriptor
		want []byte
	}{
		{
			name: "standard",
			desc: EndpointDescriptor{EndpointAddress: 0x81, Attributes: EndpointTypeBulk, MaxPacketSize: 64},
			want: []byte{7, 0x05, 0x81, 0x02, 64, 0, 0},
		},
		{
			name: "audio",
			desc: EndpointDescriptor{
				Length:          AudioEndpointDescriptorSize,
				EndpointAddress: 0x02,
				Attributes:      EndpointTypeIsochronous | IsoSyncAdaptive,
				MaxPacketSize:   582,
				Interval:        1,
			},
			want: []byte{9, 0x05, 0x02, 0x09, 0x46, 0x02, 1, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf [16]byte
			n := tt.desc.MarshalTo(buf[:])
			if !bytes.Equal(buf[:n], tt.want) {
				t.Errorf("MarshalTo() = % x, want % x", buf[:n], tt.want)
			}

			var parsed EndpointDescriptor
			if err := ParseEndpointDescriptor(buf[:n], &parsed); err != nil {
				t.Fatalf("parse error: %v", err)
			}
			if parsed.MaxPacketSize != tt.desc.MaxPacketSize {
				t.Errorf("MaxPacketSize = %d, want %d", parsed.MaxPacketSize, tt.desc.MaxPacketSize)
			}
			if int(parsed.Length) != len(tt.want) {
				t.Errorf("Length = %d, want %d", parsed.Length, len(tt.want))
			}
		})
	}
}

func TestEndpointDescriptor_ShortBuffer(t *testing.T) {
	desc := EndpointDescriptor{Length: AudioEndpointDescriptorSize}
	if n := desc.MarshalTo(make([]byte, 8)); n != 0 {
		t.Errorf("MarshalTo(8 bytes) = %d, want 0", n)
	}

	var parsed EndpointDescriptor
	truncated := []byte{9, 0x05, 0x01, 0x01, 0, 1, 1, 0}
	if err := ParseEndpointDescriptor(truncated, &parsed); !errors.Is(err, pkg.ErrDescriptorTooShort) {
		t.Errorf("ParseEndpointDescriptor(truncated) error = %v, want %v", err, pkg.ErrDescriptorTooShort)
	}
}

func TestInterfaceAssociationDescriptor_MarshalTo(t *testing.T) {
	iad := &InterfaceAssociationDescriptor{
		FirstInterface:   0,
		InterfaceCount:   3,
		FunctionClass:    ClassAudio,
		FunctionSubClass: 0x00,
	}

	var buf [IADSize]byte
	if n := iad.MarshalTo(buf[:]); n != IADSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, IADSize)
	}
	want := []byte{8, DescriptorTypeInterfaceAssociation, 0, 3, ClassAudio, 0, 0, 0}
	if !bytes.Equal(buf[:], want) {
		t.Errorf("MarshalTo() = % x, want % x", buf, want)
	}
}

func TestStringDescriptorTo(t *testing.T) {
	var buf [64]byte
	n := StringDescriptorTo(buf[:], "Audio port")
	if n != 22 {
		t.Fatalf("StringDescriptorTo() = %d, want 22", n)
	}
	if buf[0] != 22 || buf[1] != DescriptorTypeString {
		t.Errorf("header = % x, want 16 03", buf[:2])
	}
	if buf[2] != 'A' || buf[3] != 0 {
		t.Errorf("first unit = % x, want 41 00", buf[2:4])
	}

	s, err := ParseStringDescriptor(buf[:n])
	if err != nil {
		t.Fatalf("ParseStringDescriptor() error = %v", err)
	}
	if s != "Audio port" {
		t.Errorf("ParseStringDescriptor() = %q, want %q", s, "Audio port")
	}
}

func TestStringDescriptorTo_UTF16(t *testing.T) {
	var buf [64]byte
	n := StringDescriptorTo(buf[:], "é♪𝄞")
	// 1 + 1 + 2 UTF-16 units
	if n != 2+4*2 {
		t.Fatalf("StringDescriptorTo() = %d, want %d", n, 2+4*2)
	}
	s, err := ParseStringDescriptor(buf[:n])
	if err != nil {
		t.Fatalf("ParseStringDescriptor() error = %v", err)
	}
	if s != "é♪𝄞" {
		t.Errorf("ParseStringDescriptor() = %q", s)
	}
}

func TestStringDescriptorTo_Limits(t *testing.T) {
	var small [4]byte
	if n := StringDescriptorTo(small[:], "Kiffie Labs"); n != 0 {
		t.Errorf("StringDescriptorTo(small) = %d, want 0", n)
	}

	long := bytes.Repeat([]byte{'x'}, 300)
	var buf [256]byte
	n := StringDescriptorTo(buf[:], string(long))
	if n != 254 {
		t.Errorf("StringDescriptorTo(long) = %d, want 254", n)
	}
	if int(buf[0]) != n {
		t.Errorf("bLength = %d, want %d", buf[0], n)
	}
}

func TestLanguageDescriptorTo(t *testing.T) {
	var buf [4]byte
	n := LanguageDescriptorTo(buf[:], LangIDUSEnglish)
	want := []byte{4, DescriptorTypeString, 0x09, 0x04}
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("LanguageDescriptorTo() = % x, want % x", buf[:n], want)
	}
}

func TestWalkDescriptors(t *testing.T) {
	data := []byte{
		9, DescriptorTypeInterface, 0, 0, 0, ClassAudio, 1, 0, 0,
		4, DescriptorTypeCSInterface, 0x01, 0x00,
		7, DescriptorTypeEndpoint, 0x81, 0x01, 0x62, 0x00, 1,
	}

	var types []uint8
	if err := WalkDescriptors(data, func(desc []byte) bool {
		types = append(types, desc[1])
		return true
	}); err != nil {
		t.Fatalf("WalkDescriptors() error = %v", err)
	}
	want := []uint8{DescriptorTypeInterface, DescriptorTypeCSInterface, DescriptorTypeEndpoint}
	if !bytes.Equal(types, want) {
		t.Errorf("types = % x, want % x", types, want)
	}

	count := 0
	WalkDescriptors(data, func([]byte) bool {
		count++
		return false
	})
	if count != 1 {
		t.Errorf("early stop visited %d descriptors, want 1", count)
	}

	if err := WalkDescriptors([]byte{9, DescriptorTypeInterface, 0}, func([]byte) bool { return true }); !errors.Is(err, pkg.ErrDescriptorTooShort) {
		t.Errorf("overrun error = %v, want %v", err, pkg.ErrDescriptorTooShort)
	}
	if err := WalkDescriptors([]byte{0, 0}, func([]byte) bool { return true }); !errors.Is(err, pkg.ErrDescriptorTooShort) {
		t.Errorf("zero length error = %v, want %v", err, pkg.ErrDescriptorTooShort)
	}
}
