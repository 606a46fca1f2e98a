package toggle

import (
	"context"
	"strings"

	"grimm.is/toggled/internal/snapshot"
)

// ManagedByCAPsMAN is the "about" text RouterOS sets on interfaces owned
// by the wireless controller. Local writes to them are refused.
const ManagedByCAPsMAN = "managed by CAPsMAN"

const (
	poePath    = "/interface/ethernet"
	poeField   = "poe-out"
	poeAutoOn  = "auto-on"
	poeOff     = "off"
	fieldAbout = "about"
	fieldMAC   = "port-mac-address"

	fieldDefaultName = "default-name"

	fieldType      = "type"
	fieldDeviceMAC = "mac-address"
	ethernetType   = "ether"
	placeholderMAC = "00:00:00:00:00:00"
)

// derivePortFields fills port-mac-address. Non-ethernet interfaces get a
// dashed "mac-name" placeholder so they can be told apart from ports.
func derivePortFields(rec snapshot.Record) {
	if _, ok := rec[fieldMAC]; ok {
		return
	}
	mac := rec.Get(fieldDeviceMAC)
	if mac == "" {
		mac = placeholderMAC
	}
	if rec.Get(fieldType) == ethernetType {
		rec[fieldMAC] = mac
		return
	}
	rec[fieldMAC] = mac + "-" + rec.Get(snapshot.FieldName)
}

// mergeEthernet fills poe-out on interface records from the ethernet menu.
// Virtual interfaces have no default-name and never match.
func mergeEthernet(coll snapshot.Collection, ethernet []snapshot.Record) {
	byName := make(map[string]string, len(ethernet))
	for _, row := range ethernet {
		name := row.Get(fieldDefaultName)
		if poe, ok := row.Lookup(poeField); ok && name != "" {
			byName[name] = poe
		}
	}
	if len(byName) == 0 {
		return
	}
	for _, rec := range coll {
		if _, ok := rec[poeField]; ok {
			continue
		}
		if poe, ok := byName[rec.Get(fieldDefaultName)]; ok {
			rec[poeField] = poe
		}
	}
}

func managedElsewhere(rec snapshot.Record) (string, bool) {
	if rec.Get(fieldAbout) == ManagedByCAPsMAN {
		return ManagedByCAPsMAN, true
	}
	return "", false
}

// Virtual interfaces report a dashed placeholder MAC and have no
// default-name, so they are addressed by name.
func portReferenceField(rec snapshot.Record, field string) string {
	if strings.Contains(rec.Get(fieldMAC), "-") {
		return snapshot.FieldName
	}
	return field
}

// followPoE flips poe-out when it still shows the state opposite to the
// request. The result is logged only.
func (c *Controller) followPoE(ctx context.Context, rec snapshot.Record, refField string, refValue any, on bool) {
	current, ok := rec.Lookup(poeField)
	if !ok {
		return
	}

	from, to := poeAutoOn, poeOff
	if on {
		from, to = poeOff, poeAutoOn
	}
	if current != from {
		return
	}

	ok, err := c.deps.Writer.SetValue(ctx, poePath, refField, refValue, poeField, to)
	if err != nil || !ok {
		c.logger.Warn("poe-out update failed", "from", from, "to", to, "error", err)
		return
	}
	c.logger.Debug("poe-out updated", "from", from, "to", to)
}
