package audible

import "encoding/hex"

// Device identity presented to the vendor. These values mirror the mobile
// app the device-linking flow impersonates.
const (
	DeviceType      = "A2CZJZGLK2JJVM"
	AppName         = "Audible"
	AppVersion      = "3.56.2"
	SoftwareVersion = "35602678"
	OSVersion       = "15.0.0"
	DeviceModel     = "iPhone"
)

// ClientID is the OAuth client identifier for a device serial: the hex
// encoding of "<serial>#<device type>".
func ClientID(serial string) string {
	return hex.EncodeToString([]byte(serial + "#" + DeviceType))
}
