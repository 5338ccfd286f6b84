package gateway

import (
	"github.com/spf13/cobra"

	"github.com/ledossier/backend/internal/business"
	"github.com/ledossier/backend/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"gateway",
		"Browser authentication gateway",
		"Runs the HTTP server implementing the OIDC authorization code flow and the login result delivery.",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
}
