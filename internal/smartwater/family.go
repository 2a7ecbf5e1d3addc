package smartwater

// Family identifies the kind of cloud object a Record describes.
type Family string

const (
	FamilyProfile Family = "pr"
	FamilyGateway Family = "gw"
	FamilyDevice  Family = "d"
	FamilyPump    Family = "d.pump"
	FamilyTank    Family = "d.tank"
)

// Well known datapoint keys used by the engine itself.
const (
	KeyName      = "name"
	KeyType      = "type"
	KeySerial    = "serial"
	KeyVersion   = "version"
	KeyGatewayID = "gateway_id"
)

// Context keys attached by the fetch layer.
const (
	ContextProfileID = "profile_id"
	ContextGatewayID = "gateway_id"
	ContextUsername  = "username"
	ContextUserID    = "user_id"
)

// Manufacturer is reported for every registered device.
const Manufacturer = "Smart Water Technologies"
