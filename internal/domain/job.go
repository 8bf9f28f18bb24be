package domain

// Queue names used by the delivery pipeline.
const (
	QueueSend       = "campaign-send"
	QueueReplyCheck = "reply-check"
)

// SendJob is the payload handed to the delivery queue for a single
// prospect/step send. The transport worker consumes it, performs the actual
// message send, and writes the terminal send record.
type SendJob struct {
	ProspectID string `json:"prospect_id"`
	CampaignID string `json:"campaign_id"`
	StepID     string `json:"step_id"`
	AccountID  string `json:"account_id"`
}

// DedupKey returns the idempotent job id for this send: one outstanding job
// per (prospect, step). Re-enqueuing the same key while a job is pending
// must not create duplicate work.
func (j SendJob) DedupKey() string {
	return "send:" + j.ProspectID + ":" + j.StepID
}
