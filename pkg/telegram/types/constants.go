package types

// ChatType mirrors the gateway's chat kind strings
type ChatType string

const (
	ChatTypePrivate    ChatType = "private"
	ChatTypeBot        ChatType = "bot"
	ChatTypeGroup      ChatType = "group"
	ChatTypeSupergroup ChatType = "supergroup"
	ChatTypeChannel    ChatType = "channel"
)

const (
	APIBase = "/api/sessions"

	EndpointConnect       = "/connect"
	EndpointDisconnect    = "/disconnect"
	EndpointSendCode      = "/auth/send-code"
	EndpointSignIn        = "/auth/sign-in"
	EndpointCheckPassword = "/auth/check-password"
	EndpointMe            = "/me"
	EndpointDialogs       = "/dialogs"
	EndpointChats         = "/chats"
	EndpointHistory       = "/history"
	EndpointMessages      = "/messages"
	EndpointRead          = "/read"
	EndpointImportContact = "/contacts/import"
	EndpointResolve       = "/resolve"
	EndpointUpdates       = "/updates"
)

// RPC error names returned by the gateway that change how a failure is classified
const (
	RPCSessionPasswordNeeded = "SESSION_PASSWORD_NEEDED"
	RPCAuthKeyUnregistered   = "AUTH_KEY_UNREGISTERED"
	RPCUsernameNotOccupied   = "USERNAME_NOT_OCCUPIED"
	RPCUsernameInvalid       = "USERNAME_INVALID"
	RPCPeerIDInvalid         = "PEER_ID_INVALID"
	RPCSessionNotConnected   = "SESSION_NOT_CONNECTED"
)
