package repository

// SetupTestDB доступен внешним тестам пакета.
var SetupTestDB = setupTestDB
