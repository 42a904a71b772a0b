package wire

// EncodeChannelAnnounce serializes a CHANNEL_ANNOUNCE payload: a joining
// flag followed by the channel name, reusing the package's u8-length-
// prefixed string convention.
func EncodeChannelAnnounce(joining bool, channel string) ([]byte, error) {
	buf := make([]byte, 0, 2+len(channel))
	if joining {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return appendU8String(buf, channel)
}

// DecodeChannelAnnounce parses the payload EncodeChannelAnnounce produces.
func DecodeChannelAnnounce(data []byte) (joining bool, channel string, err error) {
	if len(data) < 1 {
		return false, "", ErrTooShort
	}
	joining = data[0] != 0
	channel, _, err = readU8String(data, 1)
	return joining, channel, err
}
