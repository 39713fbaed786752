package result_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Darkness4/tsremux/result"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// A minimal ISO BMFF header, enough for content sniffing.
var mp4Header = []byte{
	0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p',
	'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00,
	'i', 's', 'o', 'm', 'm', 'p', '4', '1',
}

type PublisherTestSuite struct {
	suite.Suite
	impl *result.Publisher
}

func (suite *PublisherTestSuite) BeforeTest(suiteName, testName string) {
	suite.impl = result.NewPublisher()
}

func (suite *PublisherTestSuite) get(target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	suite.impl.ServeHTTP(rec, req)
	return rec
}

func (suite *PublisherTestSuite) TestPublish() {
	// Act
	res, err := suite.impl.Publish([]byte("hello"), "video/mp4")

	// Assert
	suite.Require().NoError(err)
	suite.Require().Len(res.ID, 16)
	suite.Require().Equal("/results/"+res.ID, res.URL)
	suite.Require().Equal("video/mp4", res.MIMEType)
	suite.Require().Equal(5, res.Size)
	suite.Require().Equal("output.mp4", res.Name)
	suite.Require().Equal(1, suite.impl.Len())
}

func (suite *PublisherTestSuite) TestPublishDetectsMIMEType() {
	res, err := suite.impl.Publish(mp4Header, "")
	suite.Require().NoError(err)
	suite.Require().Equal("video/mp4", res.MIMEType)
	suite.Require().Equal("output.mp4", res.Name)
}

func (suite *PublisherTestSuite) TestPublishWithName() {
	res, err := suite.impl.Publish([]byte("hello"), "video/mp4", result.WithName("stream.mp4"))
	suite.Require().NoError(err)

	rec := suite.get(res.DownloadURL())

	suite.Require().Equal(`attachment; filename="stream.mp4"`, rec.Header().Get("Content-Disposition"))
}

func (suite *PublisherTestSuite) TestPublishEmpty() {
	_, err := suite.impl.Publish(nil, "video/mp4")
	suite.Require().ErrorIs(err, result.ErrEmpty)
}

func (suite *PublisherTestSuite) TestRevoke() {
	res, err := suite.impl.Publish([]byte("hello"), "video/mp4")
	suite.Require().NoError(err)

	suite.Require().NoError(res.Revoke())
	suite.Require().True(res.Revoked())
	suite.Require().Equal(0, suite.impl.Len())
	_, err = suite.impl.Get(res.ID)
	suite.Require().ErrorIs(err, result.ErrNotFound)

	// Second revoke is a no-op error.
	suite.Require().ErrorIs(res.Revoke(), result.ErrAlreadyRevoked)
	suite.Require().Equal(0, suite.impl.Len())
}

func (suite *PublisherTestSuite) TestRevokeLeavesOthers() {
	a, err := suite.impl.Publish([]byte("a"), "video/mp4")
	suite.Require().NoError(err)
	b, err := suite.impl.Publish([]byte("b"), "video/mp4")
	suite.Require().NoError(err)

	suite.Require().NoError(a.Revoke())

	got, err := suite.impl.Get(b.ID)
	suite.Require().NoError(err)
	suite.Require().Same(b, got)
}

func (suite *PublisherTestSuite) TestServeHTTP() {
	res, err := suite.impl.Publish([]byte("hello world"), "video/mp4")
	suite.Require().NoError(err)

	rec := suite.get(res.URL)

	suite.Require().Equal(http.StatusOK, rec.Code)
	suite.Require().Equal("video/mp4", rec.Header().Get("Content-Type"))
	suite.Require().Empty(rec.Header().Get("Content-Disposition"))
	suite.Require().Equal("hello world", rec.Body.String())
}

func (suite *PublisherTestSuite) TestServeHTTPRange() {
	res, err := suite.impl.Publish([]byte("hello world"), "video/mp4")
	suite.Require().NoError(err)

	req := httptest.NewRequest(http.MethodGet, res.URL, nil)
	req.Header.Set("Range", "bytes=6-")
	rec := httptest.NewRecorder()
	suite.impl.ServeHTTP(rec, req)

	suite.Require().Equal(http.StatusPartialContent, rec.Code)
	suite.Require().Equal("world", rec.Body.String())
}

func (suite *PublisherTestSuite) TestServeHTTPDownload() {
	res, err := suite.impl.Publish([]byte("hello"), "video/mp4")
	suite.Require().NoError(err)

	rec := suite.get(res.DownloadURL())

	suite.Require().Equal(http.StatusOK, rec.Code)
	suite.Require().Equal(`attachment; filename="output.mp4"`, rec.Header().Get("Content-Disposition"))
}

func (suite *PublisherTestSuite) TestServeHTTPRevoked() {
	res, err := suite.impl.Publish([]byte("hello"), "video/mp4")
	suite.Require().NoError(err)
	suite.Require().NoError(res.Revoke())

	rec := suite.get(res.URL)

	suite.Require().Equal(http.StatusNotFound, rec.Code)
}

func (suite *PublisherTestSuite) TestServeHTTPMethodNotAllowed() {
	res, err := suite.impl.Publish([]byte("hello"), "video/mp4")
	suite.Require().NoError(err)

	req := httptest.NewRequest(http.MethodPost, res.URL, nil)
	rec := httptest.NewRecorder()
	suite.impl.ServeHTTP(rec, req)

	suite.Require().Equal(http.StatusMethodNotAllowed, rec.Code)
}

func TestPublisherTestSuite(t *testing.T) {
	suite.Run(t, &PublisherTestSuite{})
}

func TestSignedURL(t *testing.T) {
	p := result.NewPublisher(
		result.WithBasePath("/r"),
		result.WithSecret([]byte("secret")),
		result.WithTTL(time.Minute),
	)
	res, err := p.Publish([]byte("hello"), "video/mp4")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(res.URL, "/r/"+res.ID+"?token="))
	require.Contains(t, res.DownloadURL(), "&download=1")

	srv := httptest.NewServer(p)
	defer srv.Close()

	tests := []struct {
		title    string
		target   string
		expected int
	}{
		{title: "signed", target: res.URL, expected: http.StatusOK},
		{title: "signed download", target: res.DownloadURL(), expected: http.StatusOK},
		{title: "missing token", target: "/r/" + res.ID, expected: http.StatusForbidden},
		{title: "garbage token", target: "/r/" + res.ID + "?token=abc", expected: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.target)
			require.NoError(t, err)
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)
			require.Equal(t, tt.expected, resp.StatusCode)
		})
	}
}

func TestSignedURLWrongSubject(t *testing.T) {
	p := result.NewPublisher(result.WithSecret([]byte("secret")))
	a, err := p.Publish([]byte("a"), "video/mp4")
	require.NoError(t, err)
	b, err := p.Publish([]byte("b"), "video/mp4")
	require.NoError(t, err)

	// Token of a used for b.
	u, err := url.Parse(a.URL)
	require.NoError(t, err)
	target := "/results/" + b.ID + "?token=" + u.Query().Get("token")

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSignedURLOtherSecret(t *testing.T) {
	signer := result.NewPublisher(result.WithSecret([]byte("one")))
	verifier := result.NewPublisher(result.WithSecret([]byte("two")))
	res, err := signer.Publish([]byte("a"), "video/mp4")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, res.URL, nil)
	rec := httptest.NewRecorder()
	verifier.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSignedURLExpired(t *testing.T) {
	p := result.NewPublisher(result.WithSecret([]byte("secret")), result.WithTTL(-time.Minute))
	res, err := p.Publish([]byte("a"), "video/mp4")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, res.URL, nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeriveKey(t *testing.T) {
	a := result.DeriveKey([]byte("secret"))
	require.Len(t, a, 32)
	require.Equal(t, a, result.DeriveKey([]byte("secret")))
	require.NotEqual(t, a, result.DeriveKey([]byte("other")))
}
