// Package account holds the data shapes returned by the Roborock cloud
// account API: credentials (UserData with its rriot routing bundle) and
// the device/product catalog (HomeData).
//
// The HTTP login/catalog client itself is an external collaborator; this
// package only defines the two shapes consumed at setup time, the
// HomeDataAPI function type a client must satisfy, and a local yaml cache
// so tools can work from previously fetched data.
package account

import "context"

// Reference is the account-level endpoint reference block. The broker URL
// lives in M.
type Reference struct {
	R string `json:"r" yaml:"r"`
	A string `json:"a" yaml:"a"`
	M string `json:"m" yaml:"m"`
	L string `json:"l" yaml:"l"`
}

// Rriot is the account-level routing/credential bundle: the broker realm
// (U), secret (S), key (K), and endpoint references (R).
type Rriot struct {
	U string    `json:"u" yaml:"u"`
	S string    `json:"s" yaml:"s"`
	H string    `json:"h" yaml:"h"`
	K string    `json:"k" yaml:"k"`
	R Reference `json:"r" yaml:"r"`
}

// UserData is the credential payload returned by a successful login.
type UserData struct {
	Rriot       Rriot  `json:"rriot" yaml:"rriot"`
	UID         int64  `json:"uid" yaml:"uid"`
	TokenType   string `json:"tokentype" yaml:"tokentype"`
	Token       string `json:"token" yaml:"token"`
	RRUID       string `json:"rruid" yaml:"rruid"`
	Region      string `json:"region" yaml:"region"`
	CountryCode string `json:"countrycode" yaml:"countrycode"`
	Nickname    string `json:"nickname" yaml:"nickname"`
}

// HomeDataProduct describes one product model in the catalog.
type HomeDataProduct struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Model      string `json:"model" yaml:"model"`
	Category   string `json:"category" yaml:"category"`
	Capability int    `json:"capability" yaml:"capability"`
}

// HomeDataDevice describes one appliance bound to the account.
type HomeDataDevice struct {
	DUID          string `json:"duid" yaml:"duid"`
	Name          string `json:"name" yaml:"name"`
	LocalKey      string `json:"localKey" yaml:"localKey"`
	FV            string `json:"fv" yaml:"fv"`
	ProductID     string `json:"productId" yaml:"productId"`
	PV            string `json:"pv" yaml:"pv"`
	SN            string `json:"sn" yaml:"sn"`
	Online        bool   `json:"online" yaml:"online"`
	FeatureSet    string `json:"featureSet" yaml:"featureSet"`
	NewFeatureSet string `json:"newFeatureSet" yaml:"newFeatureSet"`
	LocalIP       string `json:"localIp,omitempty" yaml:"localIp,omitempty"`
}

// HomeData is the account's device and product catalog.
type HomeData struct {
	ID              int64             `json:"id" yaml:"id"`
	Name            string            `json:"name" yaml:"name"`
	Devices         []HomeDataDevice  `json:"devices" yaml:"devices"`
	ReceivedDevices []HomeDataDevice  `json:"receivedDevices" yaml:"receivedDevices"`
	Products        []HomeDataProduct `json:"products" yaml:"products"`
}

// DeviceProduct pairs a device with its product record.
type DeviceProduct struct {
	Device  HomeDataDevice
	Product HomeDataProduct
}

// DeviceProducts joins owned and shared devices with their products.
// Devices whose product is missing from the catalog are paired with a
// zero product rather than dropped.
func (h *HomeData) DeviceProducts() []DeviceProduct {
	products := make(map[string]HomeDataProduct, len(h.Products))
	for _, p := range h.Products {
		products[p.ID] = p
	}
	var out []DeviceProduct
	for _, d := range append(append([]HomeDataDevice{}, h.Devices...), h.ReceivedDevices...) {
		out = append(out, DeviceProduct{Device: d, Product: products[d.ProductID]})
	}
	return out
}

// HomeDataAPI fetches the account catalog. Implemented by the cloud HTTP
// client, or by a cache-backed loader.
type HomeDataAPI func(ctx context.Context) (*HomeData, error)
