package detection

// traumaRiskPhrases are matched case-insensitively against message text.
// A hit is always escalated; the list is deliberately narrow to keep the
// never-false-negative treatment defensible.
var traumaRiskPhrases = []string{
	"kill yourself",
	"kys",
	"you should die",
	"end your life",
	"nobody would miss you",
	"better off dead",
	"hurt yourself",
	"i know where you live",
	"i will find you",
	"watch your back",
}

// pressurePhrases catch coercive or guilt-tripping language. Matched the
// same way but scored below certainty: plenty of benign contexts exist.
var pressurePhrases = []string{
	"you owe me",
	"after everything i did for you",
	"if you really loved me",
	"you have no choice",
	"don't make me",
	"you will regret",
	"last chance",
	"or else",
	"nobody else will want you",
	"you can't leave",
}
