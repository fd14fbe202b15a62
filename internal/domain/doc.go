// Package domain models gridded numerical weather prediction (NWP) output and
// the transforms applied to it before it is stored as per-location time series.
//
// # Data Source
//
// A model provider publishes one dataset per run. A run is started every
// [Grid.UpdateIntervalHours] hours (00, 03, 06, ... UTC for a three-hourly
// model) and the dataset becomes available some time after the reference
// hour, usually one to three hours later. The dataset is a NetCDF file with
// three dimensions:
//
//	x     west-east grid columns       (alias: lon, longitude)
//	y     south-north grid rows        (alias: lat, latitude)
//	time  forecast steps since the run (alias: t)
//
// Dimension order in the file is irrelevant; dimensions are matched by name.
//
// # Layouts
//
// Forecast variables are read space-major: all locations of one time step are
// contiguous, which is how the provider writes them.
//
//	SpaceMajor  index = t*nLocations + loc
//	TimeMajor   index = loc*nTime + t
//
// Every operation after the read works on one location's series at a time, so
// the data is reoriented to time-major ("fast time") once, right after it is
// read. Location indices run row-major over the grid: loc = y*nx + x.
//
// # Accumulated Variables
//
// Precipitation, radiation and similar fields are published as totals since
// the start of the run. Storing them requires per-step increments, obtained by
// differencing consecutive time slots of each location:
//
//	accumulated  [0, 5, 12, 20]
//	increments   [0, 5,  7,  8]
//
// A linear unit conversion (value*scale + offset) is always applied before
// differencing. Both operations commute only when offset is zero.
//
// Some providers write an undefined first step for accumulated fields; those
// variables set SkipFirstHour, the first slot is left untouched by the
// differencing and excluded from the store write.
//
// # Time Slots
//
// The store indexes time by slot number, slot = unixSeconds / timeStepSeconds.
// A run covering nTime steps occupies the half-open range
// [run/timeStep, run/timeStep + nTime), see [RingTimeRange].
//
// # Elevation
//
// Each grid has one static elevation file. Cells whose land fraction is below
// 0.5 are sea and carry the sentinel [SeaElevation] instead of the model
// orography.
package domain
