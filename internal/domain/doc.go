// Package domain models US flood events and the samples derived from them.
//
// # Data Sources
//
// Flood alerts originate from the NWS Valid Time Event Code (VTEC) archive
// served by the Iowa Environmental Mesonet (IEM) at
// https://mesonet.agron.iastate.edu/json/vtec_events.py. Events are requested
// per Weather Forecast Office (WFO) and year with phenomena code "FL" (flood),
// then filtered to the requested months and state on the client side because
// the archive offers no finer query granularity.
//
// Stream gauges come from the USGS Water Data OGC API
// (https://api.waterdata.usgs.gov/ogcapi/v0): monitoring locations with site
// type "ST" (stream) per state FIPS code, and daily gage-height observations
// (parameter code 00065, feet) per station and day.
//
// # VTEC Conventions
//
// Event naming:
//
//	"<ph_name> <sig_name>"  →  e.g. "Flood Warning", "Flash Flood Watch".
//	Significance ranks, weakest to strongest:
//	  Statement < Advisory < Watch < Warning.
//	Archived events carry certainty "Observed" and urgency "Past" because the
//	archive records what happened, not live guidance.
//
// Area format:
//
//	"<county> [<state>]"  →  e.g. "Fayette [TX]".
//	Counties resolve to centroid coordinates through a lookup table; areas with
//	a recognized state but an unlisted county fall back to the state's center
//	point. Areas that resolve to neither are skipped during extraction.
//
// # Labels and Exclusion Zones
//
// Samples are labeled "flood" (drawn from qualifying alerts) or "no_flood"
// (synthesized). Every positive projects an exclusion zone: a spatiotemporal
// cylinder of radius R kilometers and half-width T around its location and
// onset. A candidate negative is inside a zone only when BOTH the haversine
// distance is within R and the absolute time delta is within T; the same
// place during a dry week and the same day in a distant basin are both
// legitimate non-flood examples.
//
// Negatives are synthesized by perturbing a positive with offsets derived
// from a SHA-256 hash of the positive's identity and an attempt counter, so
// the same inputs always yield the same dataset. See [GenerateNegatives].
//
// # Flood Stages
//
// Corroboration compares gage height against the station's flood stage. The
// OGC API does not publish flood stages (they are maintained by NWS AHPS), so
// they arrive as an operator-supplied table keyed by station number.
//
// # ID Generation
//
// Sample IDs are deterministic SHA-256 hashes of label|lat|lon|timestamp.
// This enables idempotent downstream upserts (ON CONFLICT DO NOTHING) and
// replay safety without distributed coordination. See [generateID].
package domain
