package engagement

import (
	"math/rand/v2"

	"github.com/dukerupert/hotspot/internal/model"
)

// Grant is a pair of balance increments.
type Grant struct {
	Minutes int `json:"minutes"`
	Points  int `json:"points"`
}

// Rewards is the fixed table every reward-producing action reads from.
type Rewards struct {
	Video          Grant
	ExtensionVideo Grant
	Renewal        Grant
	Referral       Grant
	LeadCapture    Grant
	// QuizPoints is indexed by the number of correct answers. Scores past
	// the end of the table earn the last entry.
	QuizPoints []int
	Games      map[string]Grant
}

func DefaultRewards() Rewards {
	return Rewards{
		Video:          Grant{Minutes: 30, Points: 10},
		ExtensionVideo: Grant{Minutes: 15, Points: 5},
		Renewal:        Grant{Minutes: 30},
		Referral:       Grant{Points: 50},
		LeadCapture:    Grant{Points: 25},
		QuizPoints:     []int{0, 10, 25, 50},
		Games: map[string]Grant{
			"memory": {Minutes: 20, Points: 40},
			"puzzle": {Minutes: 10, Points: 20},
			"trivia": {Minutes: 15, Points: 30},
		},
	}
}

// QuizGrant returns the points earned for a number of correct answers.
func (r Rewards) QuizGrant(correct int) int {
	if correct <= 0 || len(r.QuizPoints) == 0 {
		return 0
	}
	if correct >= len(r.QuizPoints) {
		return r.QuizPoints[len(r.QuizPoints)-1]
	}
	return r.QuizPoints[correct]
}

// Game looks up a mini-game in the catalogue.
func (r Rewards) Game(id string) (Grant, bool) {
	g, ok := r.Games[id]
	return g, ok
}

// ScaleByScore scales a grant by a 0..100 score, rounding half up.
func ScaleByScore(g Grant, score int) Grant {
	return Grant{
		Minutes: (g.Minutes*score + 50) / 100,
		Points:  (g.Points*score + 50) / 100,
	}
}

// Picker chooses the engagement a newly admitted visitor must complete.
type Picker interface {
	Pick() model.EngagementType
}

// RandomPicker chooses uniformly between video and quiz.
type RandomPicker struct{}

func (RandomPicker) Pick() model.EngagementType {
	if rand.IntN(2) == 0 {
		return model.EngagementVideo
	}
	return model.EngagementQuiz
}

// FixedPicker always returns the same engagement.
type FixedPicker model.EngagementType

func (f FixedPicker) Pick() model.EngagementType {
	return model.EngagementType(f)
}
