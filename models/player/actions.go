package player

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/TeamRekursion/matchmaker/rating"
)

func (p Player) MarshalBinary() (data []byte, err error) {
	data, err = json.Marshal(p)
	return data, err
}

func (p *Player) UnmarshalBinary(data []byte) (err error) {
	err = json.Unmarshal(data, p)
	return err
}

// Skill returns the player's current skill belief.
func (p Player) Skill() rating.Skill {
	return rating.Skill{Mu: p.Mu, Sigma: p.Sigma}
}

// Rating is the display rating, 10*(10*mu - 3*sigma).
func (p Player) Rating() int {
	return p.Skill().Rating()
}

// ApplySkill overwrites mu and sigma. Callers pass the output of
// rating.UpdateAfterMatch; the skill is validated so sigma stays positive.
func (p *Player) ApplySkill(s rating.Skill) error {
	if err := s.Validate(); err != nil {
		return err
	}
	p.Mu = s.Mu
	p.Sigma = s.Sigma
	return nil
}

// String renders the post-match state sent in match_finished messages.
func (p Player) String() string {
	bz, _ := json.Marshal(p.Skill())
	return string(bz)
}

func CreatePlayer() Player {
	d := rating.Default()
	return Player{
		PlayerID: uuid.New(),
		Mu:       d.Mu,
		Sigma:    d.Sigma,
	}
}
