package mcpserver

// ConventionsURI names the conventions resource.
const ConventionsURI = "grandlibs://conventions"

// Conventions describes the units, frames and shapes every tool uses.
const Conventions = `# grandlibs Conventions

## Units and frames

- Angles are in **degrees**. Latitude is geodetic, positive North. Longitude is positive East.
- Azimuth is measured clockwise from geographic North. Elevation is measured from the local horizon, positive up.
- Distances and altitudes are in **metres**. Altitude is above the WGS84 ellipsoid.
- ECEF is the Earth-Centred Earth-Fixed Cartesian frame of WGS84. Directions are unit vectors.
- Magnetic field components are in **Tesla**, in the local East, North, Up frame.
- Dates are calendar days (` + "`" + `YYYY-MM-DD` + "`" + `). A model is valid only within its own date range.

## Batches

- A scalar argument is a number or an array of numbers. All scalar arguments of a call
  must have the same length; a length of one applies to a single point.
- A vector argument (` + "`" + `ecef` + "`" + `, ` + "`" + `direction` + "`" + `) is a flat array whose length is a
  multiple of 3 or an array of ` + "`" + `[x, y, z]` + "`" + ` triples.
- Results follow the input: one point gives bare values, n points give arrays of length n
  (or n triples).

## Errors

Tool errors are prefixed with a class:

1. **[input]** the arguments are malformed (wrong shapes, empty model name, bad date) or
   refer to a closed resource. Fix the call.
2. **[environment]** the libraries could not be fetched or built, or a native routine
   rejected the request (unknown model, date outside the model, altitude out of range).
   The message names the routine and its return code.
3. **[bug]** the binding and the installed library disagree. Reinstall with
   ` + "`" + `install_libraries` + "`" + ` and ` + "`" + `force` + "`" + `.

## Models

- ` + "`" + `IGRF12` + "`" + ` and ` + "`" + `WMM2015` + "`" + ` are installed with the library.
- Further coefficient files in the GULL .COF text format can be added with ` + "`" + `add_model` + "`" + `.
  The model name becomes the file stem and is what ` + "`" + `magnetic_field` + "`" + ` expects.

## Example

` + "```" + `json
{"model": "IGRF12", "date": "2019-01-01", "latitude": [45, 46], "longitude": 3}
` + "```" + `

fails with ` + "`" + `[input]` + "`" + ` because latitude has two entries and longitude one.
`
