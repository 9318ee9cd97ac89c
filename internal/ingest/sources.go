package ingest

// Source categories.
const (
	CategoryEstate     = "estate"
	CategoryCompetitor = "competitor"
)

// Source is one auction website the coordinator scrapes.
type Source struct {
	Name     string `json:"name" yaml:"name"`
	URL      string `json:"url" yaml:"url"`
	City     string `json:"city" yaml:"city"`
	State    string `json:"state" yaml:"state"`
	Category string `json:"category" yaml:"category"`
}

// IsEstate reports whether listings from this source are estate sales.
func (s Source) IsEstate() bool {
	return s.Category == CategoryEstate
}

// DefaultSources returns the built-in catalogue of Texas, Oklahoma and
// Louisiana auction houses.
func DefaultSources() []Source {
	return []Source{
		// Texas
		{Name: "Heritage Auctions (Arms & Armor)", URL: "https://historical.ha.com/", City: "Dallas", State: "TX", Category: CategoryCompetitor},
		{Name: "Western Sportsman LLC", URL: "https://www.westernsportsman.auction/", City: "Fort Worth", State: "TX", Category: CategoryCompetitor},
		{Name: "Warren Liquidation Auction & Resale", URL: "https://www.warrenliquidation.com/auction/list", City: "Fort Worth", State: "TX", Category: CategoryEstate},
		{Name: "Rock Island Auction Company", URL: "https://www.rockislandauction.com/", City: "Bedford", State: "TX", Category: CategoryCompetitor},
		{Name: "Texas Auction Realty", URL: "https://www.texasauctionrealty.com/", City: "Weatherford", State: "TX", Category: CategoryEstate},
		{Name: "Lone Star Auctioneers", URL: "https://www.lso.cc/", City: "Arlington", State: "TX", Category: CategoryCompetitor},
		{Name: "HiBid Dallas Firearms", URL: "https://dallas.hibid.com/auctions/40228/sporting-goods/firearms---weapons", City: "Dallas", State: "TX", Category: CategoryCompetitor},
		{Name: "Right To Bear Arms Auction Co.", URL: "https://www.r2baauctions.com/", City: "Chico", State: "TX", Category: CategoryCompetitor},
		{Name: "Central Texas Auction Services", URL: "https://www.centraltexasauctionservices.com/", City: "Belton", State: "TX", Category: CategoryEstate},
		{Name: "A & S Auction Company", URL: "https://asauctions.com/", City: "Waco", State: "TX", Category: CategoryEstate},
		{Name: "Brand Used Works", URL: "https://hibid.com/company/63519/brand-used-works", City: "Henderson", State: "TX", Category: CategoryEstate},
		{Name: "Trinity Auction Gallery", URL: "https://amp-tag.com/", City: "Trinity", State: "TX", Category: CategoryEstate},
		{Name: "TexMax Auctions", URL: "https://www.texmax.net/", City: "Houston", State: "TX", Category: CategoryCompetitor},
		{Name: "Webster's Auction Palace", URL: "https://webstersauction.com/", City: "Humble", State: "TX", Category: CategoryEstate},
		{Name: "Lewis & Maese Antiques & Auctions", URL: "https://www.lmauctionco.com/", City: "Houston", State: "TX", Category: CategoryEstate},
		{Name: "Burley Auction Group", URL: "https://www.burleyauction.com/", City: "New Braunfels", State: "TX", Category: CategoryEstate},
		{Name: "Vogt Auction", URL: "https://vogtauction.com/category/firearms-militaria", City: "San Antonio", State: "TX", Category: CategoryCompetitor},
		{Name: "Dury's Guns", URL: "https://durysguns.com/", City: "San Antonio", State: "TX", Category: CategoryCompetitor},
		{Name: "South Texas Auction Company", URL: "https://hibid.com/company/138293/south-texas-auction-company--llc", City: "Brownsville", State: "TX", Category: CategoryEstate},
		{Name: "Rene Bates Auctioneers", URL: "https://www.renebates.com/", City: "Houston", State: "TX", Category: CategoryEstate},
		{Name: "Clark Auction Company", URL: "https://www.clarkauctioncompany.com/", City: "Temple", State: "TX", Category: CategoryEstate},
		{Name: "Spanky's Online Auction", URL: "https://spankysonline.com/", City: "Lubbock", State: "TX", Category: CategoryEstate},
		{Name: "Ward Real Estate & Auction", URL: "https://www.wardrealestateauctions.com/", City: "Corpus Christi", State: "TX", Category: CategoryEstate},
		{Name: "Canyon Auctions", URL: "https://www.canyonauctions.com/", City: "Canyon", State: "TX", Category: CategoryEstate},

		// Oklahoma
		{Name: "Chupps Auction & Real Estate", URL: "https://chuppsauction.hibid.com/", City: "Pawnee", State: "OK", Category: CategoryEstate},
		{Name: "Wiggins Auctioneers", URL: "https://www.wigginsauctioneers.com/", City: "Enid", State: "OK", Category: CategoryEstate},
		{Name: "Smith & Co. Auction & Realty", URL: "https://www.smithcoauctions.com/", City: "Woodward", State: "OK", Category: CategoryEstate},
		{Name: "Pickens Auction", URL: "https://www.pickensauctions.com/", City: "Mustang", State: "OK", Category: CategoryEstate},
		{Name: "Aline Auction", URL: "https://www.alineauction.com/", City: "Aline", State: "OK", Category: CategoryEstate},
		{Name: "Ball Auction Service", URL: "https://ballauctionservice.com/", City: "Stillwater", State: "OK", Category: CategoryEstate},

		// Louisiana
		{Name: "Bonnette Auctions", URL: "https://bonnetteauctions.com/", City: "Alexandria", State: "LA", Category: CategoryEstate},
		{Name: "Lawler Auction Company", URL: "https://www.lawlerauction.com/", City: "Shreveport", State: "LA", Category: CategoryEstate},
		{Name: "Henderson Auctions", URL: "https://www.hendersonauctions.com/", City: "Livingston", State: "LA", Category: CategoryEstate},
		{Name: "Stokes & Hubbell Auctioneers", URL: "https://www.stokesandhubbell.com/", City: "Lafayette", State: "LA", Category: CategoryEstate},
	}
}
