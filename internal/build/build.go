package build

import "strings"

var (
	Version = "dev"
	AppName = "Everping"
	Slug    = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(AppName)
	}
}
