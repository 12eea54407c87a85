package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/onnwee/overtime-timer/backend/irc"
	"github.com/onnwee/overtime-timer/backend/store"
)

// Grant is a normalised add-time command derived from a viewer event.
type Grant struct {
	Kind         string // sub, resub, subgift, submysterygift, bits
	User         string
	Minutes      int
	Seconds      int
	Points       int
	Notification Notification
}

type noticeHandler func(p *Pipeline, tiers store.TierSettings, msg irc.Message) *Grant

// noticeHandlers dispatches USERNOTICE lines by msg-id.
var noticeHandlers = map[string]noticeHandler{
	"sub":            subscription,
	"resub":          subscription,
	"subgift":        giftSubscription,
	"submysterygift": mysteryGift,
}

func (p *Pipeline) userNotice(ctx context.Context, msg irc.Message) *Grant {
	h, ok := noticeHandlers[msg.MsgID]
	if !ok {
		return nil
	}
	return h(p, p.settings.Tiers(ctx), msg)
}

func subscription(_ *Pipeline, tiers store.TierSettings, msg irc.Message) *Grant {
	plan := msg.Tag("msg-param-sub-plan")
	m := tiers.Minutes(plan)
	user := displayName(msg)
	return &Grant{
		Kind:    msg.MsgID,
		User:    user,
		Minutes: m,
		Seconds: m * 60,
		Points:  m,
		Notification: Notification{
			Title:   fmt.Sprintf("+%d min", m),
			Message: fmt.Sprintf("%s subscribed (%s)", user, planName(plan)),
		},
	}
}

func giftSubscription(p *Pipeline, tiers store.TierSettings, msg irc.Message) *Grant {
	if p.cfg.DedupeGifts {
		if id := giftID(msg); id != "" && p.gifts.seen(id) {
			return nil
		}
	}
	plan := msg.Tag("msg-param-sub-plan")
	m := tiers.Minutes(plan)
	user := displayName(msg)
	recipient := msg.Tag("msg-param-recipient-display-name")
	if recipient == "" {
		recipient = "someone"
	}
	return &Grant{
		Kind:    "subgift",
		User:    user,
		Minutes: m,
		Seconds: m * 60,
		Points:  m,
		Notification: Notification{
			Title:   fmt.Sprintf("+%d min", m),
			Message: fmt.Sprintf("%s gifted a %s sub to %s", user, planName(plan), recipient),
		},
	}
}

func mysteryGift(p *Pipeline, tiers store.TierSettings, msg irc.Message) *Grant {
	count, err := strconv.Atoi(msg.Tag("msg-param-mass-gift-count"))
	if err != nil || count <= 0 {
		count = 1
	}
	if id := giftID(msg); id != "" && p.cfg.DedupeGifts {
		p.gifts.add(id)
	}
	plan := msg.Tag("msg-param-sub-plan")
	m := tiers.Minutes(plan) * count
	user := displayName(msg)
	return &Grant{
		Kind:    "submysterygift",
		User:    user,
		Minutes: m,
		Seconds: m * 60,
		Points:  m,
		Notification: Notification{
			Title:   fmt.Sprintf("+%d min", m),
			Message: fmt.Sprintf("%s gifted %d %s subs", user, count, planName(plan)),
		},
	}
}

// bits converts a cheer. Messages without a positive bits tag are ignored.
func (p *Pipeline) bits(ctx context.Context, msg irc.Message) *Grant {
	bits := msg.Bits
	if bits <= 0 {
		return nil
	}
	user := displayName(msg)
	g, reason := BitsGrant(p.settings.Donation(ctx), bits, user)
	if g == nil {
		p.logger.Info("bits ignored", slog.Int("bits", bits), slog.String("user", user), slog.String("reason", reason))
	}
	return g
}

// BitsGrant converts bits with the donation settings. It returns nil and a reason when
// the amount is below the minimum or converts to zero minutes. Time above MaxTime is
// dropped.
func BitsGrant(d store.DonationSettings, bits int, user string) (*Grant, string) {
	m, clamped, ok := d.Minutes(bits)
	if !ok {
		return nil, fmt.Sprintf("below minimum of %d", d.MinAmount)
	}
	if m <= 0 {
		return nil, "converts to zero minutes"
	}
	if clamped {
		slog.Info("bits clamped to max time", slog.String("component", "chat"), slog.Int("bits", bits), slog.Int("max_minutes", d.MaxTime))
	}
	return &Grant{
		Kind:    "bits",
		User:    user,
		Minutes: m,
		Seconds: m * 60,
		Notification: Notification{
			Title:   fmt.Sprintf("+%d min", m),
			Message: fmt.Sprintf("%s cheered %d bits", user, bits),
		},
	}, ""
}

func displayName(msg irc.Message) string {
	if n := msg.Tag("display-name"); n != "" {
		return n
	}
	if n := msg.Tag("login"); n != "" {
		return n
	}
	if msg.Source != "" {
		return msg.Source
	}
	return "anonymous"
}

func planName(plan string) string {
	switch plan {
	case store.PlanTier2:
		return "tier 2"
	case store.PlanTier3:
		return "tier 3"
	case "Prime":
		return "Prime"
	default:
		return "tier 1"
	}
}

// giftID links the individual subgift notices of a mystery gift to the gift itself.
func giftID(msg irc.Message) string {
	if id := msg.Tag("msg-param-community-gift-id"); id != "" {
		return id
	}
	return msg.Tag("msg-param-origin-id")
}

// giftLedger remembers recently counted mystery gifts when DedupeGifts is set.
type giftLedger struct {
	mu   sync.Mutex
	ids  []string
	next int
}

const giftLedgerSize = 64

func (l *giftLedger) add(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.ids) < giftLedgerSize {
		l.ids = append(l.ids, id)
		return
	}
	l.ids[l.next] = id
	l.next = (l.next + 1) % giftLedgerSize
}

func (l *giftLedger) seen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, v := range l.ids {
		if v == id {
			return true
		}
	}
	return false
}
