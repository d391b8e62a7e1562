package air4thai

// Station is one monitoring site in the served catalogue.
type Station struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// Stations is the fixed catalogue exposed by the API. Coordinates are the
// published Air4Thai site locations.
var Stations = []Station{
	{ID: "01t", Name: "Bang Khen, Bangkok", Lat: 13.8267, Lon: 100.6105},
	{ID: "02t", Name: "Bang Khun Thian, Bangkok", Lat: 13.6447, Lon: 100.4225},
	{ID: "03t", Name: "Bang Na, Bangkok", Lat: 13.6683, Lon: 100.6039},
	{ID: "04t", Name: "Boom Rung Muang, Bangkok", Lat: 13.7486, Lon: 100.5092},
	{ID: "05t", Name: "Chom Thong, Bangkok", Lat: 13.6803, Lon: 100.4372},
	{ID: "36t", Name: "Mae Hia, Chiang Mai", Lat: 18.7606, Lon: 98.9573},
	{ID: "50t", Name: "Chiang Mai", Lat: 18.7883, Lon: 98.9853},
	{ID: "52t", Name: "Lampang", Lat: 18.2886, Lon: 99.4919},
	{ID: "54t", Name: "Lamphun", Lat: 18.5744, Lon: 99.0083},
}
