// Package irc maps Twitch chat protocol lines onto flat tagged records. Tokenizing and
// IRCv3 tag unescaping are done by the go-twitch-irc message parser.
package irc

import (
	"strings"

	"github.com/gempir/go-twitch-irc/v4"
)

// Message is one parsed protocol line.
type Message struct {
	Tags    map[string]string
	Source  string // login of the sending user, empty for server lines
	Command string
	Channel string // without the leading '#', empty for server lines
	Text    string // message body; for other lines the parameters after the target
	MsgID   string // USERNOTICE kind: sub, resub, subgift, ...
	Bits    int    // PRIVMSG cheer amount
	Raw     string
}

// Tag returns the tag value or "".
func (m Message) Tag(key string) string {
	return m.Tags[key]
}

var commandNames = map[twitch.MessageType]string{
	twitch.WHISPER:         "WHISPER",
	twitch.CLEARCHAT:       "CLEARCHAT",
	twitch.ROOMSTATE:       "ROOMSTATE",
	twitch.USERSTATE:       "USERSTATE",
	twitch.JOIN:            "JOIN",
	twitch.PART:            "PART",
	twitch.NAMES:           "353",
	twitch.PONG:            "PONG",
	twitch.CLEARMSG:        "CLEARMSG",
	twitch.GLOBALUSERSTATE: "GLOBALUSERSTATE",
}

// Parse maps line onto a Message. ok is false for lines with no command and for lines
// whose parameters do not fit their command.
//
//	@key=value;key2=value2 :source COMMAND #channel :trailing text
func Parse(line string) (msg Message, ok bool) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Message{Raw: line}, false
	}
	// the parser indexes the target parameter without a length check
	defer func() {
		if recover() != nil {
			msg, ok = Message{Raw: line}, false
		}
	}()

	switch m := twitch.ParseMessage(line).(type) {
	case *twitch.PrivateMessage:
		msg = Message{Tags: m.Tags, Source: m.User.Name, Command: m.RawType, Channel: m.Channel, Text: m.Message, Bits: m.Bits}
	case *twitch.UserNoticeMessage:
		msg = Message{Tags: m.Tags, Source: m.User.Name, Command: m.RawType, Channel: m.Channel, Text: m.Message, MsgID: m.MsgID}
	case *twitch.NoticeMessage:
		msg = Message{Tags: m.Tags, Command: m.RawType, Channel: m.Channel, Text: m.Message, MsgID: m.MsgID}
	case *twitch.PingMessage:
		msg = Message{Command: m.RawType, Text: m.Message}
	case *twitch.ReconnectMessage:
		msg = Message{Command: m.RawType}
	case *twitch.RawMessage:
		msg = Message{Tags: m.Tags, Command: strings.ToUpper(m.RawType), Text: m.Message}
	case twitch.Message:
		msg = Message{Command: commandNames[m.GetType()]}
	}
	if msg.Tags == nil {
		msg.Tags = map[string]string{}
	}
	msg.Raw = line
	return msg, msg.Command != ""
}
