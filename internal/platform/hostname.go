package platform

import "strings"

// AppHostname joins an organization subdomain label with the base domain.
// Example: acme.go4it.live
func AppHostname(label, baseDomain string) string {
	return label + "." + strings.Trim(baseDomain, ".")
}

// HTTPSURL returns the public URL of a hostname.
func HTTPSURL(hostname string) string {
	return "https://" + hostname
}

// ProviderAppName derives the compute provider's application name for an
// OrgApp. It is stable across attempts so redeploys replace the instance.
func ProviderAppName(orgID, appID string) string {
	return "oa-" + shortHash(orgID+"/"+appID)
}

// DraftAppName derives the compute provider's application name for a draft
// preview of a generated app.
func DraftAppName(generatedAppID string) string {
	return "draft-" + shortHash(generatedAppID)
}
