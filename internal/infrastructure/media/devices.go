package media

type Config struct {
	Enabled      bool
	VideoWidth   int
	VideoHeight  int
	FrameRate    int
	VideoBitrate int // bps
}
