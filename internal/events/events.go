// Package events names the structured log event strings this service emits,
// mirroring the event vocabulary of the source service's EventId enum as
// slog "event" attribute values rather than a parallel Go enum type.
package events

const (
	ServiceStart     = "service.start"
	ServiceStop      = "service.stop"
	SeatTaken        = "seat.taken"
	SeatNotTaken     = "seat.not_taken"
	SeatReleased     = "seat.released"
	SeatRefreshed    = "seat.refreshed"
	SeatsReaped      = "seats.reaped"
	LicenceLoaded    = "licence.loaded"
	LicenceDeleted   = "licence.deleted"
	LicenceRejected  = "licence.rejected"
	LicenceReloadRun = "licence.reload_run"
	ProductInvalid   = "product.invalid"
	StoreSQLError    = "store.sql_error"
	StoreAnalyze     = "store.analyze"
	StoreVacuum      = "store.vacuum"
	ConfigLoaded     = "config.loaded"
	ServerVersion    = "server.version"
	WebServerAddress = "webserver.address"
)
