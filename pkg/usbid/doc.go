// Package usbid looks up names in the USB ID database (usb.ids).
//
// Besides vendor and product names it reads the class section and the
// audio terminal type section, so a host can label an enumerated audio
// function the way lsusb does:
//
//	db := usbid.New()
//	db.Load()
//
//	db.LookupVendor(0x16C0)         // vendor name
//	db.LookupSubclass(0x01, 0x02)   // "Streaming"
//	db.LookupTerminal(0x0201)       // "Microphone"
//
// The database is searched in these locations:
//
//   - /usr/share/hwdata/usb.ids
//   - /var/lib/usbutils/usb.ids
//   - /usr/share/misc/usb.ids
//
// If no file is found, lookups return empty strings. All methods are safe
// for concurrent use.
package usbid
