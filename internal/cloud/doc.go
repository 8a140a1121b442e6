// Package cloud is the client for the GO DAIKIN vendor cloud.
//
// It authenticates against AWS Cognito (InitiateAuth with USER_PASSWORD_AUTH,
// then REFRESH_TOKEN_AUTH), lists the account's air conditioners, reads a
// unit's shadow state and posts desired-state commands.
//
// The session is an oauth2.TokenSource. Tokens are reused until five minutes
// before expiry. A 401 or 403 from the API drops the cached token and
// replays the request once with a fresh one.
//
// Reads and listings retry transient failures with exponential backoff.
// Commands are sent once: a vendor toggle is not idempotent.
//
// Shadow projection lives here too: Shadow.Capabilities derives the
// capability set from the Bar_/Ena_/Inf_ flags and Shadow.State projects the
// Set_/Sta_ fields onto bridge attributes. DesiredFor maps a command back to
// Set_ fields.
package cloud
