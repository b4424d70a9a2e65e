package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/avct/uasurfer"
)

// BehavioralProfile summarizes an actor's normal activity over a trailing
// window. It is a derived, disposable cache: safe to discard and rebuild,
// never an authoritative identity record.
type BehavioralProfile struct {
	ActorID          string
	NormalLoginHours map[int]struct{}
	NormalIPs        map[string]struct{}
	NormalDevices    map[string]struct{}
	ActivityCounts   map[string]int
	AvgPaymentAmount float64
	PaymentCount     int
	LastBuilt        time.Time
}

func newProfile(actorID string) *BehavioralProfile {
	return &BehavioralProfile{
		ActorID:          actorID,
		NormalLoginHours: make(map[int]struct{}),
		NormalIPs:        make(map[string]struct{}),
		NormalDevices:    make(map[string]struct{}),
		ActivityCounts:   make(map[string]int),
	}
}

func (p *BehavioralProfile) knowsHour(hour int) bool {
	_, ok := p.NormalLoginHours[hour]
	return ok
}

func (p *BehavioralProfile) knowsIP(ip string) bool {
	_, ok := p.NormalIPs[ip]
	return ok
}

func (p *BehavioralProfile) knowsDevice(device string) bool {
	_, ok := p.NormalDevices[device]
	return ok
}

// DeviceFingerprint derives a coarse, stable device identity from the
// User-Agent. Browser family, OS and device class are enough to notice a
// switch from a known laptop to an unknown headless client; anything finer
// would churn on every minor version bump.
func DeviceFingerprint(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	ua := uasurfer.Parse(userAgent)
	return strings.ToLower(fmt.Sprintf("%s-%s-%s",
		strings.TrimPrefix(ua.Browser.Name.String(), "Browser"),
		strings.TrimPrefix(ua.OS.Name.String(), "OS"),
		strings.TrimPrefix(ua.DeviceType.String(), "Device"),
	))
}
