package protocol

// Log notices the gateway sends to clients.
const (
	NoticeGreeting         = "Hello Flightless Bird"
	NoticeAuthenticated    = "Authenticated"
	NoticeUnauthenticated  = "UNAuthenticated"
	NoticeAuthRejected     = "AuthNe"
	NoticeNotAuthenticated = "NOAuthenticated"
)
