package enums

// Trigger names the entry point that asked for reconciliation.
type Trigger string

const (
	TriggerWebhook  Trigger = "webhook"
	TriggerVerify   Trigger = "verify"
	TriggerDownload Trigger = "download"
	TriggerCapture  Trigger = "capture"
	TriggerDirect   Trigger = "direct"
)

// String implements fmt.Stringer.
func (t Trigger) String() string {
	return string(t)
}
