//go:build integration

package job_test

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/Darkness4/tsremux/engine"
	"github.com/Darkness4/tsremux/engine/ffmpeg"
	"github.com/Darkness4/tsremux/event"
	"github.com/Darkness4/tsremux/job"
	"github.com/stretchr/testify/suite"
)

type OrchestratorIntegrationTestSuite struct {
	suite.Suite
	dir    string
	input  []byte
	engine *ffmpeg.Engine
	impl   *job.Orchestrator
}

func (suite *OrchestratorIntegrationTestSuite) BeforeTest(suiteName, testName string) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		suite.T().Skip("ffmpeg not found")
	}
	suite.dir = suite.T().TempDir()
	src := filepath.Join(suite.dir, "src.ts")

	// 2s of video, 3s of audio.
	cmd := exec.Command(
		"ffmpeg", "-hide_banner", "-y",
		"-f", "lavfi", "-i", "testsrc=duration=2:size=320x240:rate=25",
		"-f", "lavfi", "-i", "sine=frequency=440:duration=3",
		"-c:v", "libx264", "-c:a", "aac",
		"-f", "mpegts", src,
	)
	out, err := cmd.CombinedOutput()
	suite.Require().NoError(err, string(out))
	suite.input, err = os.ReadFile(src)
	suite.Require().NoError(err)

	bridge := event.NewBridge()
	suite.engine = ffmpeg.New()
	suite.impl = job.New(engine.NewHandle(suite.engine, bridge), bridge)
}

func (suite *OrchestratorIntegrationTestSuite) AfterTest(suiteName, testName string) {
	if suite.engine != nil {
		_ = suite.engine.Close()
	}
}

func (suite *OrchestratorIntegrationTestSuite) TestRun() {
	// Act
	j, err := suite.impl.Run(context.Background(), "src.ts", suite.input, 2)

	// Assert
	suite.Require().NoError(err)
	suite.Require().Equal(job.StatusDone, j.Status)
	suite.Require().NotEmpty(j.Result)

	moov := bytes.Index(j.Result, []byte("moov"))
	mdat := bytes.Index(j.Result, []byte("mdat"))
	suite.Require().NotEqual(-1, moov)
	suite.Require().NotEqual(-1, mdat)
	suite.Require().Less(moov, mdat, "moov atom must precede mdat")

	out := filepath.Join(suite.dir, "out.mp4")
	suite.Require().NoError(os.WriteFile(out, j.Result, 0o644))
	probe, err := exec.Command(
		"ffprobe", "-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		out,
	).Output()
	suite.Require().NoError(err)
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(probe)), 64)
	suite.Require().NoError(err)
	suite.Require().LessOrEqual(duration, 2.2)

	streams, err := exec.Command(
		"ffprobe", "-v", "error",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		out,
	).Output()
	suite.Require().NoError(err)
	suite.Require().Contains(string(streams), "video")
	suite.Require().Contains(string(streams), "audio")
}

func (suite *OrchestratorIntegrationTestSuite) TestRunInvalidInput() {
	j, err := suite.impl.Run(context.Background(), "garbage.ts", []byte("not a transport stream"), 2)

	suite.Require().Error(err)
	suite.Require().Equal(job.StatusFailed, j.Status)
	suite.Require().Nil(j.Result)
}

func TestOrchestratorIntegrationTestSuite(t *testing.T) {
	suite.Run(t, &OrchestratorIntegrationTestSuite{})
}
