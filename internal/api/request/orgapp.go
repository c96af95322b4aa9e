package request

// AddOrgApp installs a catalog application into the organization.
type AddOrgApp struct {
	AppID string `json:"app_id" validate:"required,max=128"`
}

// LaunchOrgApp starts the first deployment. Preview deploys to the preview
// hostname and waits for GoLive.
type LaunchOrgApp struct {
	Preview bool `json:"preview"`
}

// SetAccess replaces the set of members allowed to use the instance. An
// empty list revokes everyone.
type SetAccess struct {
	MemberIDs []string `json:"member_ids" validate:"max=500,dive,max=128"`
}

// SetSubdomain reserves a hostname label. Format is checked by the allocator
// so the caller gets the canonical message.
type SetSubdomain struct {
	Subdomain string `json:"subdomain" validate:"required,max=253"`
}

type PublishVersion struct {
	Version string `json:"version" validate:"required,max=64"`
}
