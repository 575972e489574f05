package models

// ExtensionRegistrationStatus tracks whether an extension container should
// be running at all.
type ExtensionRegistrationStatus string

const (
	ExtensionRegistrationStatusEnabled  ExtensionRegistrationStatus = "ENABLED"
	ExtensionRegistrationStatusDisabled ExtensionRegistrationStatus = "DISABLED"
)

// ExtensionRegistration is the operator-installed record of an extension image.
type ExtensionRegistration struct {
	ExtensionID  string                       `json:"extension_id"`
	Image        string                       `json:"image"`
	RegistryAuth *RegistryAuth                `json:"registry_auth,omitempty"`
	Settings     []Variable                   `json:"settings"`
	Created      int64                        `json:"created"`
	Modified     int64                        `json:"modified"`
	Status       ExtensionRegistrationStatus  `json:"status"`
	KeyID        string                       `json:"key_id"`
}

func NewExtensionRegistration(extensionID, image, keyID string, settings []Variable) *ExtensionRegistration {
	now := NowMilli()
	return &ExtensionRegistration{
		ExtensionID: extensionID,
		Image:       image,
		Settings:    settings,
		Created:     now,
		Modified:    now,
		Status:      ExtensionRegistrationStatusEnabled,
		KeyID:       keyID,
	}
}

// ExtensionSubscriptionStatus tracks a pipeline's bind to an extension.
type ExtensionSubscriptionStatus string

const (
	ExtensionSubscriptionStatusActive   ExtensionSubscriptionStatus = "ACTIVE"
	ExtensionSubscriptionStatusError    ExtensionSubscriptionStatus = "ERROR"
	ExtensionSubscriptionStatusDisabled ExtensionSubscriptionStatus = "DISABLED"
)

// ExtensionSubscription binds a pipeline to an extension under a caller-chosen label.
type ExtensionSubscription struct {
	Namespace    string                      `json:"namespace"`
	Pipeline     string                      `json:"pipeline"`
	ExtensionID  string                      `json:"extension_id"`
	Label        string                      `json:"label"`
	Settings     []Variable                  `json:"settings"`
	Status       ExtensionSubscriptionStatus `json:"status"`
	StatusReason string                      `json:"status_reason,omitempty"`
}

func NewExtensionSubscription(namespace, pipeline, extensionID, label string, settings []Variable) *ExtensionSubscription {
	return &ExtensionSubscription{
		Namespace:   namespace,
		Pipeline:    pipeline,
		ExtensionID: extensionID,
		Label:       label,
		Settings:    settings,
		Status:      ExtensionSubscriptionStatusActive,
	}
}
