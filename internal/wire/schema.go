package wire

// Protocol models the full message surface for the schema generator so a
// single reflected document covers both directions of the socket.
type Protocol struct {
	GetTime  GetTime  `json:"get_time"`
	InfoTime InfoTime `json:"info_time"`
	Post     Post     `json:"post"`
	InfoPost InfoPost `json:"info_post"`
	Load     Load     `json:"load"`
	Watch    Watch    `json:"watch"`
	Unwatch  Unwatch  `json:"unwatch"`
}
