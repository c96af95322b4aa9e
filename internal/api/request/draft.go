package request

type DeployDraft struct {
	GeneratedAppID string `json:"generatedAppId" validate:"required,max=128"`
}
