package common

// AccessTokenHeaderName is the metadata key the transport layer uses to carry
// the access token on inbound requests.
const AccessTokenHeaderName = "access_token"

// MinPasswordLength is the shortest password the user directory accepts.
const MinPasswordLength = 8
