package tenant

import "strings"

type CreateDTO struct {
	Name      string
	Subdomain string
}

func (d *CreateDTO) Normalize() {
	d.Name = strings.TrimSpace(d.Name)
	d.Subdomain = normalizeSubdomain(d.Subdomain)
}
