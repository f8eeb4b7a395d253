package events

const (
	TopicTenantCreatedV1       = "tenant.created.v1"
	TopicTenantRenamedV1       = "tenant.renamed.v1"
	TopicTenantStatusChangedV1 = "tenant.status_changed.v1"
	EventVersionV1             = 1
)

type TenantCreatedV1 struct {
	Name      string `json:"name"`
	Subdomain string `json:"subdomain"`
}

type TenantRenamedV1 struct {
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

type TenantStatusChangedV1 struct {
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}
