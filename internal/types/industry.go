package types

// Industry pairs a suggested industry with an example product type.
type Industry struct {
	Name           string `json:"name"`
	ExampleProduct string `json:"example_product"`
}

// Industries is the advisory catalogue offered by the presentation layers.
// Requests are not restricted to it.
var Industries = []Industry{
	{Name: "Electronics", ExampleProduct: "Smartwatch"},
	{Name: "Automotive", ExampleProduct: "Electric Scooter"},
	{Name: "Medical Devices", ExampleProduct: "Digital Thermometer"},
	{Name: "Consumer Goods", ExampleProduct: "Toy Car"},
	{Name: "Textiles", ExampleProduct: "Baseball Cap"},
	{Name: "Chemicals", ExampleProduct: "Plastic Water Bottle"},
}
