package remote

const buildingFields = `
	id
	name
	description
	exactType
	timeZone
	type
	address {
		streetAddress
		locality
		region
		countryName
		postalCode
	}
	geolocation {
		latitude
		longitude
	}
	dateCreated
	dateUpdated
	floors {
		id
		name
		description
		exactType
		level
		dateCreated
		dateUpdated
		spaces {
			id
			name
			description
			exactType
			dateCreated
			dateUpdated
		}
	}
`

const queryBuildings = `query GetBuildings {
	buildings {` + buildingFields + `}
}`

const querySites = `query GetSites {
	sites {
		id
		name
		buildings {` + buildingFields + `}
	}
}`

const pointFields = `
	id
	name
	description
	exactType
	unit {
		name
	}
	series(latest: true) {
		timestamp
		value {
			float64Value
			float32Value
			stringValue
			boolValue
		}
	}
`

const queryEnergyPoints = `query GetEnergyPoints($ids: [ID!]) {
	buildings(filter: {id: {in: $ids}}) {
		id
		points {` + pointFields + `}
		floors {
			id
			points {` + pointFields + `}
			spaces {
				id
				points {` + pointFields + `}
			}
		}
	}
}`
