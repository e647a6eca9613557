package broadcast

import "errors"

var (
	// ErrAlreadyProcessing is returned by StartProcessing when the queue
	// already has an active loop. Only programmer misuse reaches it.
	ErrAlreadyProcessing = errors.New("queue is already processing")

	ErrCampaignRunning     = errors.New("a campaign is already running for this tenant")
	ErrOutsideAllowedHours = errors.New("outside allowed sending hours")
	ErrNoQueue             = errors.New("no queue for tenant")
	ErrNoMessages          = errors.New("no messages to send")
	ErrInvalidMessage      = errors.New("message has no recipient or body")
	ErrEmptyTenant         = errors.New("tenant id is required")
	ErrManagerClosed       = errors.New("broadcast manager is shut down")
)
