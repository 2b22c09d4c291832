package images

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cochaviz/runqemu/internal/logging"
	"github.com/cochaviz/runqemu/internal/models"
)

const composeJSON = `{
  "header": {"version": "1.2"},
  "payload": {
    "images": {
      "BaseOS": {
        "x86_64": [
          {"path": "BaseOS/x86_64/images/rhel-guest-image-9.qcow2", "type": "qcow2", "subvariant": "KVM"},
          {"path": "BaseOS/x86_64/images/rhel-9.iso", "type": "dvd", "subvariant": "BaseOS"}
        ],
        "aarch64": [
          {"path": "BaseOS/aarch64/images/rhel-guest-image-9.qcow2", "type": "qcow2", "subvariant": "KVM"}
        ]
      },
      "AppStream": {
        "x86_64": [
          {"path": "AppStream/x86_64/images/rhel-ec2-9.qcow2", "type": "qcow2", "subvariant": "EC2"}
        ]
      }
    }
  }
}`

func newLocator() *Locator {
	return &Locator{Logger: logging.Discard()}
}

func TestResolveSourceIsReturnedUnchanged(t *testing.T) {
	t.Parallel()

	loc := newLocator()
	got, err := loc.Resolve(context.Background(), models.ImageDescriptor{Name: "f34", Source: "http://x/f34.qcow2"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "http://x/f34.qcow2" {
		t.Fatalf("Resolve() = %q", got)
	}
}

func TestResolveWithoutMethodFails(t *testing.T) {
	t.Parallel()

	_, err := newLocator().Resolve(context.Background(), models.ImageDescriptor{Name: "empty"})
	if !errors.Is(err, models.ErrNoResolutionMethod) {
		t.Fatalf("expected ErrNoResolutionMethod, got %v", err)
	}
}

func TestResolveComposeUsesVariantHint(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		if r.URL.Path != "/RHEL-9/compose/metadata/images.json" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, composeJSON)
	}))
	defer srv.Close()

	loc := newLocator()
	desc := models.ImageDescriptor{Name: "rhel-9", Compose: srv.URL + "/RHEL-9", Variant: "BaseOS"}

	got, err := loc.Resolve(context.Background(), desc)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := srv.URL + "/RHEL-9/BaseOS/x86_64/images/rhel-guest-image-9.qcow2"
	if got != want {
		t.Fatalf("Resolve() = %q, want %q", got, want)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 2 || paths[0] != "/RHEL-9/metadata/images.json" {
		t.Fatalf("expected metadata lookup fallback, got %v", paths)
	}
}

func TestResolveComposeAmbiguousIsResolutionError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, composeJSON)
	}))
	defer srv.Close()

	desc := models.ImageDescriptor{Name: "rhel-9", Compose: srv.URL + "/compose/", Variant: "Nope"}
	_, err := newLocator().Resolve(context.Background(), desc)

	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if len(resErr.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %v", resErr.Candidates)
	}
}

func TestNarrowCandidates(t *testing.T) {
	t.Parallel()

	all := []Candidate{
		{Path: "a.qcow2", Variant: "BaseOS", Subvariant: "KVM"},
		{Path: "b.qcow2", Variant: "BaseOS", Subvariant: "EC2"},
		{Path: "c.qcow2", Variant: "AppStream", Subvariant: "KVM"},
		{Path: "c.qcow2", Variant: "AppStream", Subvariant: "KVM"},
	}

	byVariant := NarrowCandidates(all, "BaseOS", "")
	if len(byVariant) != 2 {
		t.Fatalf("expected 2 BaseOS candidates, got %v", byVariant)
	}
	for _, c := range byVariant {
		if c.Variant != "BaseOS" {
			t.Fatalf("unexpected candidate %v", c)
		}
	}

	unmatched := NarrowCandidates(all, "Workstation", "")
	if len(unmatched) != 3 {
		t.Fatalf("expected unmatched hint to keep all 3 candidates, got %v", unmatched)
	}

	exact := NarrowCandidates(all, "BaseOS", "EC2")
	if len(exact) != 1 || exact[0].Path != "b.qcow2" {
		t.Fatalf("expected b.qcow2, got %v", exact)
	}
}

func TestResolveCentOSPicksNewestNumerically(t *testing.T) {
	t.Parallel()

	page := `<html><body><table>
<tr><td class="indexcolicon"><img src="/icons/back.gif"></td><td class="indexcolname"><a href="/centos/9-stream/">Parent Directory</a></td></tr>
<tr><td class="indexcolname"><a href="CentOS-Stream-GenericCloud-9-20230704.1.x86_64.qcow2">x</a></td></tr>
<tr><td class="indexcolname"><a href="CentOS-Stream-GenericCloud-9-20230704.10.x86_64.qcow2">x</a></td></tr>
<tr><td class="indexcolname"><a href="CentOS-Stream-GenericCloud-9-20230704.2.x86_64.qcow2">x</a></td></tr>
<tr><td class="indexcolname"><a href="CentOS-Stream-GenericCloud-9-20240101.0.aarch64.qcow2">x</a></td></tr>
<tr><td class="indexcolname"><a href="CentOS-Stream-GenericCloud-9-20230704.1.x86_64.qcow2.SHA256SUM">x</a></td></tr>
<tr><td class="other"><a href="CentOS-Stream-GenericCloud-9-20990101.0.x86_64.qcow2">x</a></td></tr>
</table></body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	index := srv.URL + "/centos/9-stream/x86_64/images"
	got, err := newLocator().Resolve(context.Background(), models.ImageDescriptor{Name: "c9", CentOSHTML: index})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := index + "/CentOS-Stream-GenericCloud-9-20230704.10.x86_64.qcow2"
	if got != want {
		t.Fatalf("Resolve() = %q, want %q", got, want)
	}
}

func TestResolveCentOSUnknownStream(t *testing.T) {
	t.Parallel()

	_, err := newLocator().Resolve(context.Background(), models.ImageDescriptor{Name: "c7", CentOSHTML: "http://x/centos/7/images/"})
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if !strings.Contains(resErr.Error(), "could not determine CentOS version") {
		t.Fatalf("unexpected error %v", resErr)
	}
}
