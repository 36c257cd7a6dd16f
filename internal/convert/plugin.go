package convert

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"time"
)

const pluginProbeTimeout = 10 * time.Second

var kfxPluginRe = regexp.MustCompile(`(?is)KFX Output.*Convert ebooks to KFX format`)

// ProbeKFXPlugin invokes calibre-customize -l and reports whether the KFX
// Output plugin is registered. A missing binary, non-zero exit, or timeout
// all resolve to false rather than an error: the gate is a yes/no question.
func ProbeKFXPlugin(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pluginProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "calibre-customize", "-l")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return false
	}
	return kfxPluginRe.Match(out.Bytes())
}
