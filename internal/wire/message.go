package wire

import "encoding/binary"

// ChatMessage flag bits.
const (
	MsgFlagRelay               byte = 1 << 0
	MsgFlagPrivate             byte = 1 << 1
	MsgFlagHasOriginalSender   byte = 1 << 2
	MsgFlagHasRecipientNick    byte = 1 << 3
	MsgFlagHasSenderPeerID     byte = 1 << 4
	MsgFlagHasMentions         byte = 1 << 5
	MsgFlagHasChannel          byte = 1 << 6
	MsgFlagIsEncrypted         byte = 1 << 7
)

// ChatMessage is the MESSAGE / NOISE_ENCRYPTED payload schema.
type ChatMessage struct {
	IsRelay            bool
	IsPrivate          bool
	IsEncrypted        bool
	ID                 string
	SenderNickname     string
	Content            string // message body; carried as given, whether or not IsEncrypted is set
	TimestampMS        uint64
	OriginalSender     string
	RecipientNickname  string
	SenderPeerIDHex    string
	Mentions           []string
	Channel            string
}

// EncodeChatMessage serializes m using the length-prefixed schema from
// spec.md §3: flags, timestamp, then id/sender/content, then whichever
// optional fields their flag bit selects, in fixed order.
func EncodeChatMessage(m ChatMessage) ([]byte, error) {
	flags := byte(0)
	if m.IsRelay {
		flags |= MsgFlagRelay
	}
	if m.IsPrivate {
		flags |= MsgFlagPrivate
	}
	if m.IsEncrypted {
		flags |= MsgFlagIsEncrypted
	}
	if m.OriginalSender != "" {
		flags |= MsgFlagHasOriginalSender
	}
	if m.RecipientNickname != "" {
		flags |= MsgFlagHasRecipientNick
	}
	if m.SenderPeerIDHex != "" {
		flags |= MsgFlagHasSenderPeerID
	}
	if len(m.Mentions) > 0 {
		flags |= MsgFlagHasMentions
	}
	if m.Channel != "" {
		flags |= MsgFlagHasChannel
	}

	buf := make([]byte, 0, 64+len(m.Content))
	buf = append(buf, flags)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], m.TimestampMS)
	buf = append(buf, ts[:]...)

	var err error
	buf, err = appendU8String(buf, m.ID)
	if err != nil {
		return nil, err
	}
	buf, err = appendU8String(buf, m.SenderNickname)
	if err != nil {
		return nil, err
	}
	buf, err = appendU16String(buf, m.Content)
	if err != nil {
		return nil, err
	}

	if flags&MsgFlagHasOriginalSender != 0 {
		if buf, err = appendU8String(buf, m.OriginalSender); err != nil {
			return nil, err
		}
	}
	if flags&MsgFlagHasRecipientNick != 0 {
		if buf, err = appendU8String(buf, m.RecipientNickname); err != nil {
			return nil, err
		}
	}
	if flags&MsgFlagHasSenderPeerID != 0 {
		if buf, err = appendU8String(buf, m.SenderPeerIDHex); err != nil {
			return nil, err
		}
	}
	if flags&MsgFlagHasMentions != 0 {
		if len(m.Mentions) > 255 {
			return nil, ErrTruncatedField
		}
		buf = append(buf, byte(len(m.Mentions)))
		for _, mention := range m.Mentions {
			if buf, err = appendU8String(buf, mention); err != nil {
				return nil, err
			}
		}
	}
	if flags&MsgFlagHasChannel != 0 {
		if buf, err = appendU8String(buf, m.Channel); err != nil {
			return nil, err
		}
	}

	return buf, nil
}

// DecodeChatMessage parses the schema EncodeChatMessage produces.
func DecodeChatMessage(data []byte) (ChatMessage, error) {
	if len(data) < 1+8 {
		return ChatMessage{}, ErrTooShort
	}
	flags := data[0]
	off := 1
	ts := binary.BigEndian.Uint64(data[off : off+8])
	off += 8

	m := ChatMessage{
		IsRelay:     flags&MsgFlagRelay != 0,
		IsPrivate:   flags&MsgFlagPrivate != 0,
		IsEncrypted: flags&MsgFlagIsEncrypted != 0,
		TimestampMS: ts,
	}

	var err error
	if m.ID, off, err = readU8String(data, off); err != nil {
		return ChatMessage{}, err
	}
	if m.SenderNickname, off, err = readU8String(data, off); err != nil {
		return ChatMessage{}, err
	}
	if m.Content, off, err = readU16String(data, off); err != nil {
		return ChatMessage{}, err
	}

	if flags&MsgFlagHasOriginalSender != 0 {
		if m.OriginalSender, off, err = readU8String(data, off); err != nil {
			return ChatMessage{}, err
		}
	}
	if flags&MsgFlagHasRecipientNick != 0 {
		if m.RecipientNickname, off, err = readU8String(data, off); err != nil {
			return ChatMessage{}, err
		}
	}
	if flags&MsgFlagHasSenderPeerID != 0 {
		if m.SenderPeerIDHex, off, err = readU8String(data, off); err != nil {
			return ChatMessage{}, err
		}
	}
	if flags&MsgFlagHasMentions != 0 {
		if off >= len(data) {
			return ChatMessage{}, ErrTruncatedField
		}
		count := int(data[off])
		off++
		mentions := make([]string, 0, count)
		for i := 0; i < count; i++ {
			var mention string
			if mention, off, err = readU8String(data, off); err != nil {
				return ChatMessage{}, err
			}
			mentions = append(mentions, mention)
		}
		m.Mentions = mentions
	}
	if flags&MsgFlagHasChannel != 0 {
		if m.Channel, off, err = readU8String(data, off); err != nil {
			return ChatMessage{}, err
		}
	}

	return m, nil
}

func appendU8String(buf []byte, s string) ([]byte, error) {
	if len(s) > 255 {
		return nil, ErrTruncatedField
	}
	buf = append(buf, byte(len(s)))
	buf = append(buf, s...)
	return buf, nil
}

func appendU16String(buf []byte, s string) ([]byte, error) {
	if len(s) > 65535 {
		return nil, ErrTruncatedField
	}
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(s)))
	buf = append(buf, l[:]...)
	buf = append(buf, s...)
	return buf, nil
}

func readU8String(data []byte, off int) (string, int, error) {
	if off >= len(data) {
		return "", 0, ErrTruncatedField
	}
	n := int(data[off])
	off++
	if off+n > len(data) {
		return "", 0, ErrTruncatedField
	}
	return string(data[off : off+n]), off + n, nil
}

func readU16String(data []byte, off int) (string, int, error) {
	if off+2 > len(data) {
		return "", 0, ErrTruncatedField
	}
	n := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	if off+n > len(data) {
		return "", 0, ErrTruncatedField
	}
	return string(data[off : off+n]), off + n, nil
}
