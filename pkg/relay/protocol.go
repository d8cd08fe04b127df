package relay

// Frame types exchanged with the relay server. The server pushes `identity`
// once after the handshake and a full `snapshot` whenever a watched table
// changes; the client sends `send_message` / `set_name` requests and the
// server answers each with an `ack` carrying the request id.
const (
	frameIdentity    = "identity"
	frameSnapshot    = "snapshot"
	frameAck         = "ack"
	frameSendMessage = "send_message"
	frameSetName     = "set_name"
)

// UserRow mirrors one row of the remote user table.
type UserRow struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
	Online   bool   `json:"online"`
}

// MessageRow mirrors one row of the remote message table.
type MessageRow struct {
	ID     uint64 `json:"id"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
	SentAt string `json:"sent_at"`
}

type frame struct {
	Type     string       `json:"type"`
	ID       string       `json:"id,omitempty"`
	Identity string       `json:"identity,omitempty"`
	Name     string       `json:"name,omitempty"`
	Text     string       `json:"text,omitempty"`
	OK       bool         `json:"ok,omitempty"`
	Error    string       `json:"error,omitempty"`
	Users    []UserRow    `json:"users,omitempty"`
	Messages []MessageRow `json:"messages,omitempty"`
}
