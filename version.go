package featurekit

import "fmt"

// ClientName identifies this SDK in event payloads.
const ClientName = "go-sdk"

// ClientVersion is stamped into event payloads next to ClientName.
const ClientVersion = "2.1.0"

// userAgent identifies the SDK on outbound HTTP requests using the same
// name/version pair the event context carries, so collector-side and
// transport-side traffic correlate.
func userAgent() string {
	return fmt.Sprintf("%s/%s", ClientName, ClientVersion)
}
