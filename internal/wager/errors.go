package wager

import (
	"errors"

	"github.com/spikebot/spike/internal/store"
)

// Errors raised by the wager lifecycle. All of them are reported to the
// user as a notice; none of them stop the bot.
var (
	// Input validation.
	ErrMalformedOptionLine = errors.New("wager: malformed option line")
	ErrUnknownEmoji        = errors.New("wager: unknown emoji")
	ErrInvalidAmount       = errors.New("wager: invalid amount")
	ErrEmptyOptions        = errors.New("wager: no options given")
	ErrMalformedCommand    = errors.New("wager: malformed command")

	// Economic.
	ErrCreatorNotFunded  = errors.New("wager: creator has no funds")
	ErrInsufficientFunds = store.ErrInsufficientFunds
	// ErrSettlementOverflow means the pot or the winnings of a close do
	// not fit in a wallet.
	ErrSettlementOverflow = errors.New("wager: settlement out of range")

	// Authorization.
	ErrSelfWager     = errors.New("wager: creator cannot bet on own wager")
	ErrNotWagerOwner = errors.New("wager: only the creator can close a wager")

	// Lookup.
	ErrInvalidOption = errors.New("wager: emoji is not an option")
	ErrUnknownWager  = errors.New("wager: no such wager")
	ErrUnknownBettor = errors.New("wager: bettor cannot be resolved")

	// Integrity: the message matched zero or several wagers.
	ErrAmbiguousWagerReference = errors.New("wager: ambiguous wager reference")
)

// Notice returns the user-facing title and description for err. ok is
// false for errors with no user-facing wording (integrity faults and
// unexpected failures).
func Notice(err error) (title, description string, ok bool) {
	title, description, ok = notice(err)
	if line, bad := lineOf(err); ok && bad {
		description += "\nLine: " + line
	}
	return title, description, ok
}

func notice(err error) (title, description string, ok bool) {
	switch {
	case errors.Is(err, ErrEmptyOptions):
		return "Invalid Bet Parts", "A bet needs a title line, a description line and at least one option line.", true
	case errors.Is(err, ErrUnknownEmoji):
		return "Invalid Emoji", "That emoji is not available on this server.", true
	case errors.Is(err, ErrInvalidAmount):
		return "Non-zero bet/win amount", "Bet amount and win amount must be positive whole numbers no larger than 1000000000000.", true
	case errors.Is(err, ErrSettlementOverflow):
		return "Invalid close error", "The winnings of this bet are too large to pay out.", true
	case errors.Is(err, ErrMalformedOptionLine):
		return "Invalid line arguments length", "Option lines look like `:emoji: {bet amount} {winnings} What this wager means`.", true
	case errors.Is(err, ErrMalformedCommand):
		return "Invalid Syntax", "Please see the help menu for more information.", true
	case errors.Is(err, ErrCreatorNotFunded):
		return "Invalid Wager", "You need Spike Bucks in your wallet to host a bet.", true
	case errors.Is(err, ErrInsufficientFunds):
		return "Invalid Wager", "Your wager must be a positive amount and you cannot bet more than you own", true
	case errors.Is(err, ErrSelfWager):
		return "Bet Owner Cannot Bet on Own Bet", "A bet owner tried to bet on their own bet, which they cannot do.", true
	case errors.Is(err, ErrNotWagerOwner):
		return "Invalid close error", "Only the creator of the bet can close the bet", true
	case errors.Is(err, ErrInvalidOption):
		return "Invalid Emoji", "Emoji is not a wager", true
	case errors.Is(err, ErrUnknownWager):
		return "Invalid ID", "Invalid end bet ID", true
	case errors.Is(err, ErrUnknownBettor):
		return "Cannot Pay Bettor", "A bettor could not be resolved for payout.", true
	}
	return "", "", false
}
