package catalog

// TopicDef is the static definition of a topic within a subject.
type TopicDef struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	XPReward    int    `yaml:"xp_reward" json:"xpReward"`
}

// Subject is a subject with its ordered topic list.
type Subject struct {
	ID     string     `yaml:"id" json:"id"`
	Name   string     `yaml:"name" json:"name"`
	Topics []TopicDef `yaml:"topics" json:"topics"`
}

// TotalXP returns the sum of the topic rewards in the subject.
func (s Subject) TotalXP() int {
	total := 0
	for _, t := range s.Topics {
		total += t.XPReward
	}
	return total
}

type file struct {
	Subjects []Subject `yaml:"subjects"`
}
