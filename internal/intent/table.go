package intent

import "github.com/tbourn/go-order-bot/internal/domain"

// Family is one row of the keyword table: a vocabulary bound to an action and
// a resolution priority. When several families appear in one message the
// highest priority wins.
//
// Terms are RE2 fragments. Repeated letters are written with a plus so that
// "canceeel" or "speeed" match without listing every spelling; a term that is
// also a common word prefix ends in \b.
type Family struct {
	Name     string
	Action   domain.Action
	Priority int
	Terms    []string
}

// Families is the default vocabulary, covering English, Roman Urdu and
// Hinglish forms seen in support chats.
var Families = []Family{
	{
		Name:     "cancel",
		Action:   domain.ActionCancel,
		Priority: 30,
		Terms: []string{
			`c+a*n+c+(?:e+l+|l+e+|e+)(?:e*d)?`, // cancel, cancle, cance, cncel, cancelled
			`c+n+a+c+e+l+`,
			`s+t+o+p+`,
			`r+[ou]+k+(?:o|do)?\b`, // rok, rokk, rook, ruk, roko
			`b+a*n+d+\b`,           // band, bnd
			`w+a*p+i+s+`,           // wapis, wpis
			`v+a+p+i+s+`,
			`r+e+f+u+n+d+`,
			`r+e+t+u+r+n+`,
			`k+h+a*t+a*m+`, // khatam, khtm
		},
	},
	{
		Name:     "refill",
		Action:   domain.ActionRefill,
		Priority: 20,
		Terms: []string{
			`r+e+f+i+l+`,
			`r+e+n+e+w+`,
			`r+e+o+r+d+e+r+`,
			`t+o+p+[ -]?u+p+`,
			`r+e+p+l+e+n+i+s+h+`,
			`r+e+s+t+o+c+k+`,
			`r+e+s+u+p+l+y+`,
			`r+e+s+u+p+p+l+y+`,
			`b+h+a+r+(?: ?d+o+)?\b`, // bhar, bhardo
			`g+i+r+[ae]?\b`,         // gir, girr, gira
			`d+r+o+p+`,              // drop, dropped
			`l+o+s+t+`,
			`d+e+c+r+e+a+s+e+`,
		},
	},
	{
		Name:     "speed",
		Action:   domain.ActionSpeed,
		Priority: 10,
		Terms: []string{
			`s+p+e+e*d+(?: ?u+p+)?`, // speed, sped, speeed, speedup
			`f+a+s+t+(?:e+r+)?`,
			`q+u+i+c+k+`,
			`j+a*l+d+i+`, // jaldi, jldi, jaldii
			`t+e+e*[jz]+\b`,
			`i+n+c+r+e+a+s+e+`,
		},
	},
}
